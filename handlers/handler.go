package handlers

import (
	"go.uber.org/zap"

	"scrap-pickup-api/catalog"
	"scrap-pickup-api/identity"
	"scrap-pickup-api/lifecycle"
	"scrap-pickup-api/reconcile"
	"scrap-pickup-api/store"
)

// Handler serves the HTTP API on top of the domain services.
type Handler struct {
	store   *store.Store
	ids     *identity.Service
	catalog *catalog.Service
	engine  *lifecycle.Engine
	jobs    *reconcile.Jobs
	log     *zap.Logger
}

func New(st *store.Store, ids *identity.Service, cat *catalog.Service, engine *lifecycle.Engine, jobs *reconcile.Jobs, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{store: st, ids: ids, catalog: cat, engine: engine, jobs: jobs, log: log}
}
