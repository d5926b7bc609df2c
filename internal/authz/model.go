package authz

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"go.wharfapis.com/wharf/internal/manager"
	"go.wharfapis.com/wharf/pkg/apis/auth/v1alpha1"
)

// Rule is one compiled grant: a set of resource patterns and the actions
// permitted on resources they cover.
type Rule struct {
	Patterns []Pattern
	Actions  map[string]struct{}
}

// Allows reports whether the rule grants the action on the reference.
func (r Rule) Allows(action string, ref ObjectRef) bool {
	if _, ok := r.Actions[action]; !ok {
		if _, ok := r.Actions[Wildcard]; !ok {
			return false
		}
	}
	for _, p := range r.Patterns {
		if p.Matches(ref) {
			return true
		}
	}
	return false
}

// Model is an immutable compiled snapshot of the access-control state.
// Lookups walk the subject's direct rules plus the rules of every role the
// subject is a member of.
type Model struct {
	// subjectRules maps a subject key ("user:x" or "role:y") to its grants.
	subjectRules map[string][]Rule
	// memberships maps a user name to the roles it belongs to.
	memberships map[string][]string
}

// EmptyModel denies everything except the root subject.
func EmptyModel() *Model {
	return &Model{
		subjectRules: map[string][]Rule{},
		memberships:  map[string][]string{},
	}
}

// Allows reports whether the user may perform the action on the reference.
func (m *Model) Allows(user, action string, ref ObjectRef) bool {
	for _, rule := range m.subjectRules[UserSubject(user)] {
		if rule.Allows(action, ref) {
			return true
		}
	}
	for _, role := range m.memberships[user] {
		for _, rule := range m.subjectRules[RoleSubject(role)] {
			if rule.Allows(action, ref) {
				return true
			}
		}
	}
	return false
}

// Loader compiles the stored access-control documents into a Model.
type Loader struct {
	policies          *manager.Manager[v1alpha1.Policy, *v1alpha1.Policy]
	policyAttachments *manager.Manager[v1alpha1.PolicyAttachment, *v1alpha1.PolicyAttachment]
	roleAttachments   *manager.Manager[v1alpha1.RoleAttachment, *v1alpha1.RoleAttachment]
}

// NewLoader creates a loader over the access-control resource managers.
func NewLoader(
	policies *manager.Manager[v1alpha1.Policy, *v1alpha1.Policy],
	policyAttachments *manager.Manager[v1alpha1.PolicyAttachment, *v1alpha1.PolicyAttachment],
	roleAttachments *manager.Manager[v1alpha1.RoleAttachment, *v1alpha1.RoleAttachment],
) *Loader {
	return &Loader{
		policies:          policies,
		policyAttachments: policyAttachments,
		roleAttachments:   roleAttachments,
	}
}

// Load reads every access-control document and compiles a fresh model.
// Invalid documents and dangling references are logged and skipped so one
// bad document cannot take enforcement down; tombstoned documents are
// ignored entirely.
func (l *Loader) Load(ctx context.Context) (*Model, error) {
	policies, err := l.policies.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading policies: %w", err)
	}
	policyAttachments, err := l.policyAttachments.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading policy attachments: %w", err)
	}
	roleAttachments, err := l.roleAttachments.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading role attachments: %w", err)
	}

	compiled := make(map[string][]Rule, len(policies))
	for _, p := range policies {
		if p.Metadata.Tombstoned() {
			continue
		}
		rules, err := compilePolicy(p)
		if err != nil {
			klog.ErrorS(err, "Skipping invalid policy", "policy", p.Metadata.Name)
			continue
		}
		compiled[p.Metadata.Name] = rules
	}

	model := EmptyModel()
	for _, a := range policyAttachments {
		if a.Metadata.Tombstoned() {
			continue
		}
		if err := v1alpha1.ValidatePolicyAttachment(a); err != nil {
			klog.ErrorS(err, "Skipping invalid policy attachment", "policyAttachment", a.Metadata.Name)
			continue
		}
		rules, ok := compiled[a.Spec.PolicyRef]
		if !ok {
			klog.InfoS("Skipping policy attachment with unresolved policy",
				"policyAttachment", a.Metadata.Name, "policyRef", a.Spec.PolicyRef)
			continue
		}
		for _, subject := range a.Spec.Subjects {
			key := SubjectKey(subject)
			model.subjectRules[key] = append(model.subjectRules[key], rules...)
		}
	}

	for _, a := range roleAttachments {
		if a.Metadata.Tombstoned() {
			continue
		}
		if err := v1alpha1.ValidateRoleAttachment(a); err != nil {
			klog.ErrorS(err, "Skipping invalid role attachment", "roleAttachment", a.Metadata.Name)
			continue
		}
		model.memberships[a.Spec.UserRef] = append(model.memberships[a.Spec.UserRef], a.Spec.RoleRef)
	}

	klog.V(2).InfoS("Compiled access-control model",
		"policies", len(compiled),
		"subjects", len(model.subjectRules),
		"memberships", len(model.memberships))
	return model, nil
}

func compilePolicy(p *v1alpha1.Policy) ([]Rule, error) {
	if err := v1alpha1.ValidatePolicy(p); err != nil {
		return nil, err
	}
	rules := make([]Rule, 0, len(p.Spec.Rules))
	for _, raw := range p.Spec.Rules {
		rule := Rule{
			Patterns: make([]Pattern, 0, len(raw.Resources)),
			Actions:  make(map[string]struct{}, len(raw.Actions)),
		}
		for _, s := range raw.Resources {
			p, err := ParsePattern(s)
			if err != nil {
				return nil, err
			}
			rule.Patterns = append(rule.Patterns, p)
		}
		for _, action := range raw.Actions {
			rule.Actions[action] = struct{}{}
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
