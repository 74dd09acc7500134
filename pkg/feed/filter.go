package feed

import (
	"errors"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/golang/groupcache/lru"
	"github.com/travigo/vehiclefeed/pkg/position"
)

var ErrInvalidFilter = errors.New("invalid filter expression")

// Filter narrows an aggregation. Empty fields match everything. Expression is an
// optional boolean expr program over the envelope, eg.
// `routeId in ["10", "12"] && latitude > 50`.
type Filter struct {
	FeedID     string
	AgencyID   string
	Expression string
}

func expressionEnv(envelope position.Envelope) map[string]any {
	env := map[string]any{
		"vehicleId":         envelope.VehicleID,
		"feedId":            envelope.FeedID,
		"agencyId":          envelope.AgencyID,
		"routeId":           envelope.RouteID,
		"tripId":            envelope.TripID,
		"directionId":       int(envelope.DirectionID),
		"currentStopId":     envelope.CurrentStopID,
		"currentStopStatus": envelope.CurrentStopStatus.String(),
		"occupancyStatus":   envelope.OccupancyStatus.String(),
		"vehicleLabel":      envelope.VehicleLabel,
		"timestamp":         envelope.Timestamp.Unix(),
		"latitude":          0.0,
		"longitude":         0.0,
	}

	if envelope.Position != nil {
		env["latitude"], env["longitude"] = envelope.Position.Degrees()
	}

	return env
}

// maxCachedPrograms bounds the compiled filters kept across requests. Expressions
// come from query strings so the set of distinct ones is unbounded.
const maxCachedPrograms = 256

type programCache struct {
	mutex    sync.Mutex
	programs *lru.Cache
}

func (c *programCache) compile(expression string) (*vm.Program, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.programs == nil {
		c.programs = lru.New(maxCachedPrograms)
	}

	if cached, exists := c.programs.Get(expression); exists {
		return cached.(*vm.Program), nil
	}

	program, err := expr.Compile(expression, expr.Env(expressionEnv(position.Envelope{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}

	c.programs.Add(expression, program)

	return program, nil
}

func (f Filter) matchesIDs(envelope position.Envelope) bool {
	if f.FeedID != "" && envelope.FeedID != f.FeedID {
		return false
	}
	if f.AgencyID != "" && envelope.AgencyID != f.AgencyID {
		return false
	}

	return true
}

func matchesProgram(program *vm.Program, envelope position.Envelope) (bool, error) {
	if program == nil {
		return true, nil
	}

	output, err := expr.Run(program, expressionEnv(envelope))
	if err != nil {
		return false, err
	}

	matched, _ := output.(bool)

	return matched, nil
}
