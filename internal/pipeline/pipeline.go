// Package pipeline implements the Session Pipeline: the public
// ExecuteQuery operation that drives resolve → build tunnel → bridge →
// execute → teardown. Resolver failures are returned unchanged; every
// failure after resolution is translated into a single BadRequest kind
// surfaced to the caller.
package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mateusfdl/infisical/internal/bridge"
	"github.com/mateusfdl/infisical/internal/errs"
	"github.com/mateusfdl/infisical/internal/executor"
	"github.com/mateusfdl/infisical/internal/model"
	"github.com/mateusfdl/infisical/internal/registry"
	"github.com/mateusfdl/infisical/internal/resolver"
	"github.com/mateusfdl/infisical/internal/tunnel"
)

// Request is the input to ExecuteQuery.
type Request struct {
	SessionID string
	SQL       string
	Params    []interface{}
	Actor     model.Actor
}

// Pipeline wires the Resolver, Tunnel Builder, Local Bridge, Query
// Executor, and Tunnel Registry into the single executeQuery operation.
type Pipeline struct {
	resolver *resolver.Resolver
	builder  *tunnel.Builder
	executor *executor.Executor
	registry *registry.Registry
	log      zerolog.Logger
}

// New constructs a Pipeline over its collaborating components.
func New(res *resolver.Resolver, builder *tunnel.Builder, exec *executor.Executor, reg *registry.Registry, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		resolver: res,
		builder:  builder,
		executor: exec,
		registry: reg,
		log:      log.With().Str("component", "session-pipeline").Logger(),
	}
}

// ExecuteQuery runs the full tunneled query pipeline for one request.
// Any failure in steps 2-5 tears down whatever was built and is reported
// as a BadRequest to the caller.
func (p *Pipeline) ExecuteQuery(ctx context.Context, req Request) (*model.QueryResult, error) {
	resolved, err := p.resolver.ResolveForQuery(ctx, req.SessionID, req.Actor)
	if err != nil {
		return nil, err
	}

	handle, err := p.builder.Build(ctx, resolved.Bundle)
	if err != nil {
		return nil, errs.BadRequest(err)
	}
	p.registry.Register(handle)

	result, err := p.runBridgedQuery(ctx, req, resolved, handle)
	if err != nil {
		p.registry.CloseOne(req.SessionID)
		return nil, errs.BadRequest(err)
	}

	p.registry.CloseOne(req.SessionID)
	return result, nil
}

func (p *Pipeline) runBridgedQuery(ctx context.Context, req Request, resolved *resolver.Resolved, handle *tunnel.Handle) (*model.QueryResult, error) {
	b, localPort, err := bridge.Start(handle.Inner, p.log)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = b.Close()
		b.Wait()
	}()

	kind := resolved.Credentials.Kind
	result, err := p.executor.Execute(ctx, kind, resolved.Credentials, localPort, req.SQL, req.Params)
	if err != nil {
		return nil, err
	}

	return result, nil
}
