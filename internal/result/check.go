package result

import (
	"context"

	"github.com/4dn-dcic/foursight-sub000/internal/store"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// Check is the mutable outcome of one check run. Check bodies set its fields
// and return it; the runner stores it.
type Check struct {
	*Reader

	Description   interface{}
	Status        types.CheckStatus
	Summary       interface{}
	BriefOutput   interface{}
	FullOutput    interface{}
	AdminOutput   interface{}
	FFLink        string
	Action        string
	AllowAction   bool
	ActionMessage interface{}
	Runnable      bool
	Kwargs        types.Kwargs
}

// NewCheck creates a fresh run of the check name with status IGNORE.
func NewCheck(s *store.Store, name string) *Check {
	return &Check{
		Reader: NewReader(s, name),
		Status: types.CheckIgnore,
		Kwargs: types.Kwargs{},
	}
}

// Envelope formats the run without normalizing or storing it.
func (c *Check) Envelope() types.Envelope {
	return types.Envelope{
		Kind:          types.KindCheck,
		Name:          c.Name(),
		Description:   c.Description,
		Status:        string(c.Status),
		UUID:          c.Kwargs.UUID(),
		Summary:       c.Summary,
		Kwargs:        c.Kwargs,
		BriefOutput:   c.BriefOutput,
		FullOutput:    c.FullOutput,
		AdminOutput:   c.AdminOutput,
		FFLink:        c.FFLink,
		Action:        c.Action,
		AllowAction:   c.AllowAction,
		ActionMessage: c.ActionMessage,
		Runnable:      c.Runnable,
	}
}

// StoreResult normalizes the status, assigns the run identity and writes the
// run under its history key, latest and (when kwargs.primary is true)
// primary. With kwargs.do_not_store set nothing is written. The formatted
// envelope is returned either way; an error means the run could not be
// encoded as JSON or kwargs.uuid is not a timestamp (ErrInvalidUUID).
func (c *Check) StoreResult(ctx context.Context) (*types.Envelope, error) {
	if !c.Status.Valid() {
		c.Status = types.CheckError
		c.Description = types.MalformedStatusDescription
	}
	kw, err := ensureKwargs(c.Kwargs)
	if err != nil {
		return nil, err
	}
	c.Kwargs = kw
	return c.storeEnvelope(ctx, c.Envelope())
}
