package main

import (
	"database/sql"

	apptservice "consular/internal/appointment/service"
	apptstore "consular/internal/appointment/store"
	catalogservice "consular/internal/catalog/service"
	catalogstore "consular/internal/catalog/store"
	docservice "consular/internal/document/service"
	docstore "consular/internal/document/store"
	notifservice "consular/internal/notification/service"
	notifstore "consular/internal/notification/store"
	orgservice "consular/internal/organization/service"
	orgstore "consular/internal/organization/store"
	profileservice "consular/internal/profile/service"
	profilestore "consular/internal/profile/store"
	requestservice "consular/internal/request/service"
	requeststore "consular/internal/request/store"
	userservice "consular/internal/user/service"
	userstore "consular/internal/user/store"
	audit "consular/pkg/platform/audit"
	auditmemory "consular/pkg/platform/audit/store/memory"
	auditpostgres "consular/pkg/platform/audit/store/postgres"
	"consular/pkg/platform/tx"
)

// stores holds one backend per module, all in memory or all in PostgreSQL.
type stores struct {
	users         userservice.Store
	organizations orgservice.Store
	catalog       catalogservice.Store
	profiles      profileservice.Store
	requests      requestservice.Store
	documents     docservice.Store
	appointments  apptservice.Store
	notifications notifservice.Store
	audit         audit.Store
	tx            tx.Runner
}

func newMemoryStores() *stores {
	return &stores{
		users:         userstore.NewInMemory(),
		organizations: orgstore.NewInMemory(),
		catalog:       catalogstore.NewInMemory(),
		profiles:      profilestore.NewInMemory(),
		requests:      requeststore.NewInMemory(),
		documents:     docstore.NewInMemory(),
		appointments:  apptstore.NewInMemory(),
		notifications: notifstore.NewInMemory(),
		audit:         auditmemory.NewInMemoryStore(),
		tx:            tx.NoopRunner{},
	}
}

func newPostgresStores(db *sql.DB) *stores {
	return &stores{
		users:         userstore.NewPostgres(db),
		organizations: orgstore.NewPostgres(db),
		catalog:       catalogstore.NewPostgres(db),
		profiles:      profilestore.NewPostgres(db),
		requests:      requeststore.NewPostgres(db),
		documents:     docstore.NewPostgres(db),
		appointments:  apptstore.NewPostgres(db),
		notifications: notifstore.NewPostgres(db),
		audit:         auditpostgres.New(db),
		tx:            tx.NewSQLRunner(db),
	}
}
