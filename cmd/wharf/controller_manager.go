package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/component-base/logs"
	logsapi "k8s.io/component-base/logs/api/v1"
	"k8s.io/klog/v2"

	"go.wharfapis.com/wharf/internal/apierrors"
	"go.wharfapis.com/wharf/internal/authz"
	"go.wharfapis.com/wharf/internal/controller"
	"go.wharfapis.com/wharf/internal/events"
	"go.wharfapis.com/wharf/internal/manager"
	"go.wharfapis.com/wharf/internal/store"
	"go.wharfapis.com/wharf/pkg/apis/auth/v1alpha1"
)

// ControllerManagerOptions contains configuration for the controller manager.
type ControllerManagerOptions struct {
	CouchDBURL      string
	CouchDBUsername string
	CouchDBPassword string

	Workers      int
	ResyncPeriod time.Duration
	// Per-kind resync overrides; zero inherits ResyncPeriod.
	ResyncUsers             time.Duration
	ResyncRoles             time.Duration
	ResyncPolicies          time.Duration
	ResyncPolicyAttachments time.Duration
	ResyncRoleAttachments   time.Duration

	GCInterval time.Duration
	HealthAddr string

	NATSURL           string
	NATSSubjectPrefix string

	Logs *logs.Options
}

// NewControllerManagerOptions creates options with default values.
func NewControllerManagerOptions() *ControllerManagerOptions {
	return &ControllerManagerOptions{
		CouchDBURL:        "http://127.0.0.1:5984",
		Workers:           controller.DefaultWorkers,
		ResyncPeriod:      controller.DefaultResyncInterval,
		GCInterval:        controller.DefaultGCInterval,
		HealthAddr:        ":8081",
		NATSSubjectPrefix: "wharf",
		Logs:              logs.NewOptions(),
	}
}

// AddFlags adds controller manager flags to the command.
func (o *ControllerManagerOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.CouchDBURL, "couchdb-url", o.CouchDBURL,
		"Base URL of the CouchDB server.")
	fs.StringVar(&o.CouchDBUsername, "couchdb-username", o.CouchDBUsername,
		"Username for CouchDB basic authentication.")
	fs.StringVar(&o.CouchDBPassword, "couchdb-password", o.CouchDBPassword,
		"Password for CouchDB basic authentication.")
	fs.IntVar(&o.Workers, "workers", o.Workers,
		"Number of reconcile workers per controller.")
	fs.DurationVar(&o.ResyncPeriod, "resync-period", o.ResyncPeriod,
		"Full-list resync period applied to every controller unless overridden per kind.")
	fs.DurationVar(&o.ResyncUsers, "resync-users", o.ResyncUsers,
		"Resync period for the User controller. Zero inherits --resync-period.")
	fs.DurationVar(&o.ResyncRoles, "resync-roles", o.ResyncRoles,
		"Resync period for the Role controller. Zero inherits --resync-period.")
	fs.DurationVar(&o.ResyncPolicies, "resync-policies", o.ResyncPolicies,
		"Resync period for the Policy controller. Zero inherits --resync-period.")
	fs.DurationVar(&o.ResyncPolicyAttachments, "resync-policy-attachments", o.ResyncPolicyAttachments,
		"Resync period for the PolicyAttachment controller. Zero inherits --resync-period.")
	fs.DurationVar(&o.ResyncRoleAttachments, "resync-role-attachments", o.ResyncRoleAttachments,
		"Resync period for the RoleAttachment controller. Zero inherits --resync-period.")
	fs.DurationVar(&o.GCInterval, "gc-interval", o.GCInterval,
		"Period of the tombstone garbage-collection sweep.")
	fs.StringVar(&o.HealthAddr, "health-addr", o.HealthAddr,
		"The address to bind the health and metrics endpoints.")
	fs.StringVar(&o.NATSURL, "nats-url", o.NATSURL,
		"NATS server URL for mirroring domain events. Empty disables publishing.")
	fs.StringVar(&o.NATSSubjectPrefix, "nats-subject-prefix", o.NATSSubjectPrefix,
		"Subject prefix for mirrored domain events.")
}

// Validate checks the options.
func (o *ControllerManagerOptions) Validate() error {
	if o.CouchDBURL == "" {
		return fmt.Errorf("--couchdb-url is required")
	}
	if o.Workers <= 0 {
		return fmt.Errorf("--workers must be positive, got %d", o.Workers)
	}
	if o.ResyncPeriod <= 0 {
		return fmt.Errorf("--resync-period must be positive, got %s", o.ResyncPeriod)
	}
	if o.GCInterval <= 0 {
		return fmt.Errorf("--gc-interval must be positive, got %s", o.GCInterval)
	}
	return nil
}

func (o *ControllerManagerOptions) resync(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return o.ResyncPeriod
}

// NewControllerManagerCommand creates the controller-manager subcommand.
func NewControllerManagerCommand() *cobra.Command {
	options := NewControllerManagerOptions()

	cmd := &cobra.Command{
		Use:   "controller-manager",
		Short: "Run the resource controllers and the policy enforcement loop",
		Long: `Run the controllers that converge stored resources toward their declared
state, the garbage collector for tombstoned documents, and the wiring that
keeps the access-control model in sync with the store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logsapi.ValidateAndApply(options.Logs, featureGate); err != nil {
				return err
			}
			if err := options.Validate(); err != nil {
				return err
			}
			return RunControllerManager(cmd.Context(), options)
		},
	}

	flags := cmd.Flags()
	options.AddFlags(flags)
	logsapi.AddFlags(options.Logs, flags)

	return cmd
}

// RunControllerManager wires the store, managers, controllers, enforcer, and
// garbage collector together and blocks until the context ends.
func RunControllerManager(ctx context.Context, options *ControllerManagerOptions) error {
	klog.Info("Starting wharf controller manager")

	st, err := store.NewCouchDB(ctx, store.CouchDBConfig{
		URL:      options.CouchDBURL,
		Username: options.CouchDBUsername,
		Password: options.CouchDBPassword,
	})
	if err != nil {
		return apierrors.Newf(apierrors.CodeInitializationFailed, "connecting to CouchDB: %v", err)
	}
	defer st.Close()

	if err := st.EnsureDatabase(ctx, v1alpha1.GroupName, true); err != nil {
		return apierrors.Newf(apierrors.CodeInitializationFailed, "ensuring database %q: %v", v1alpha1.GroupName, err)
	}
	// The garbage collector finds tombstoned documents by metadata.deletedAt.
	if err := st.EnsureIndex(ctx, v1alpha1.GroupName, "by-deleted-at", []string{"metadata.deletedAt"}); err != nil {
		return apierrors.Newf(apierrors.CodeInitializationFailed, "ensuring index on %q: %v", v1alpha1.GroupName, err)
	}

	bus := events.NewLocalBus()
	natsPub, err := events.NewNATSPublisher(events.NATSConfig{
		URL:           options.NATSURL,
		SubjectPrefix: options.NATSSubjectPrefix,
	})
	if err != nil {
		return apierrors.Newf(apierrors.CodeInitializationFailed, "connecting to NATS: %v", err)
	}
	if natsPub != nil {
		defer natsPub.Close()
		bus.Subscribe(func(ctx context.Context, ev events.Event) {
			if err := natsPub.Publish(ctx, ev); err != nil {
				klog.ErrorS(err, "Failed to mirror domain event", "type", ev.Type, "kind", ev.Kind, "name", ev.Name)
			}
		})
	}

	users := manager.New[v1alpha1.User](st, v1alpha1.UserTypeMeta).WithEventBus(bus)
	roles := manager.New[v1alpha1.Role](st, v1alpha1.RoleTypeMeta).WithEventBus(bus)
	policies := manager.New[v1alpha1.Policy](st, v1alpha1.PolicyTypeMeta).WithEventBus(bus)
	policyAttachments := manager.New[v1alpha1.PolicyAttachment](st, v1alpha1.PolicyAttachmentTypeMeta).WithEventBus(bus)
	roleAttachments := manager.New[v1alpha1.RoleAttachment](st, v1alpha1.RoleAttachmentTypeMeta).WithEventBus(bus)

	rm := controller.NewManager(controller.ManagerOptions{HealthAddr: options.HealthAddr})

	opts := func(resync time.Duration) controller.Options {
		return controller.Options{Workers: options.Workers, ResyncInterval: resync}
	}
	rm.Add(controller.New(users,
		controller.NewUserReconciler(users),
		opts(options.resync(options.ResyncUsers))))
	rm.Add(controller.New(roles,
		controller.NewLifecycleReconciler(roles, nil),
		opts(options.resync(options.ResyncRoles))))
	rm.Add(controller.New(policies,
		controller.NewLifecycleReconciler(policies, v1alpha1.ValidatePolicy),
		opts(options.resync(options.ResyncPolicies))))
	rm.Add(controller.New(policyAttachments,
		controller.NewLifecycleReconciler(policyAttachments, v1alpha1.ValidatePolicyAttachment),
		opts(options.resync(options.ResyncPolicyAttachments))))
	rm.Add(controller.New(roleAttachments,
		controller.NewLifecycleReconciler(roleAttachments, v1alpha1.ValidateRoleAttachment),
		opts(options.resync(options.ResyncRoleAttachments))))

	enforcer := authz.NewEnforcer(authz.NewLoader(policies, policyAttachments, roleAttachments))
	rm.Add(authz.NewWiring(st, enforcer, v1alpha1.GroupName,
		v1alpha1.PolicyTypeMeta,
		v1alpha1.PolicyAttachmentTypeMeta,
		v1alpha1.RoleAttachmentTypeMeta,
	))

	rm.Add(controller.NewGC(options.GCInterval,
		controller.SweepTombstones(users),
		controller.SweepTombstones(roles),
		controller.SweepTombstones(policies),
		controller.SweepTombstones(policyAttachments),
		controller.SweepTombstones(roleAttachments),
	))

	if err := rm.Run(ctx); err != nil {
		return err
	}
	klog.Info("Controller manager shutdown complete")
	return nil
}
