// Package runner assembles the application from configuration and owns its
// long-lived resources.
//
// New opens the warehouse (read) and database (write) pools, builds the
// guarded model shared by every collaborator, the classifiers, the schema
// service, the resolution loop, the cache tiers and the conversation store,
// and hands them to an engine.Engine. Close drains background persistence
// before closing the pools.
//
//	cfg, _ := config.Load("delfos.yaml")
//	r, err := runner.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer r.Close(context.Background())
//	resp, err := r.Engine().Process(ctx, engine.Request{UserID: "u1", Message: "saldo por banco"})
package runner
