package result

import (
	"context"

	"github.com/4dn-dcic/foursight-sub000/internal/store"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// Action is the mutable outcome of one action run.
type Action struct {
	*Reader

	Description interface{}
	Status      types.ActionStatus
	Output      interface{}
	Kwargs      types.Kwargs
}

// NewAction creates a fresh run of the action name with status PEND.
func NewAction(s *store.Store, name string) *Action {
	return &Action{
		Reader: NewReader(s, name),
		Status: types.ActionPend,
		Kwargs: types.Kwargs{},
	}
}

// Envelope formats the run without normalizing or storing it.
func (a *Action) Envelope() types.Envelope {
	return types.Envelope{
		Kind:        types.KindAction,
		Name:        a.Name(),
		Description: a.Description,
		Status:      string(a.Status),
		UUID:        a.Kwargs.UUID(),
		Kwargs:      a.Kwargs,
		Output:      a.Output,
	}
}

// StoreResult behaves like Check.StoreResult; malformed statuses become FAIL.
func (a *Action) StoreResult(ctx context.Context) (*types.Envelope, error) {
	if !a.Status.Valid() {
		a.Status = types.ActionFail
		a.Description = types.MalformedStatusDescription
	}
	kw, err := ensureKwargs(a.Kwargs)
	if err != nil {
		return nil, err
	}
	a.Kwargs = kw
	return a.storeEnvelope(ctx, a.Envelope())
}

// GetAssociatedCheck returns the check run that triggered this action, found
// through kwargs.check_name and kwargs.called_by. It returns nil when either
// is missing or the run no longer exists.
func (a *Action) GetAssociatedCheck(ctx context.Context) *types.Envelope {
	name := a.Kwargs.String(types.KwargCheckName)
	uuid := a.Kwargs.String(types.KwargCalledBy)
	if name == "" || uuid == "" {
		return nil
	}
	return NewReader(a.Store(), name).GetResultByUUID(ctx, uuid)
}
