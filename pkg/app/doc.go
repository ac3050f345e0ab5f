// Package app assembles the CI run ingestion service so it can be embedded
// into other Go applications.
//
// # Overview
//
// The service periodically collects GitHub Actions workflow runs, downloads
// and unpacks their artifacts, classifies the extracted files, splits job
// logs into per-step excerpts and records everything in PostgreSQL or
// SQLite. A REST API exposes the recorded data and on-demand triggers.
//
// # Basic Usage
//
//	cfg := &app.Config{
//		GitHub: app.GitHubConfig{
//			Token: os.Getenv("GITHUB_TOKEN"),
//			Owner: "acme",
//			Repo:  "widgets",
//		},
//		Database: app.DatabaseConfig{
//			Driver: "postgres",
//			DSN:    "postgres://ledger@localhost/ledger?sslmode=disable",
//		},
//		Auth: app.AuthConfig{
//			APIKeys: []app.APIKey{{Name: "dashboard", Key: "secret-key-here"}},
//		},
//	}
//
//	a, err := app.New(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer a.Close()
//
//	if err := a.Migrate(); err != nil {
//		log.Fatal(err)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := a.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// Unset fields take the defaults of the standalone binary: SQLite under
// ./data, local file storage, a five minute collection interval.
//
// # Using with Existing HTTP Server
//
//	http.Handle("/ci/", http.StripPrefix("/ci", a.Handler()))
//
// The collector is not started in this mode; drive it with CollectOnce or
// through the service.
//
// # One-off Operations
//
//	report, err := a.CollectOnce(ctx)
//	result, err := a.ProcessRun(ctx, 123456789)
package app
