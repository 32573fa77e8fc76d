package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/strata/internal/queryir"
)

type bareDriver struct{}

func (bareDriver) Name() string { return "bare" }

type readOnlyDriver struct{ bareDriver }

func (readOnlyDriver) Find(context.Context, queryir.Select) ([]Record, error) { return nil, nil }
func (readOnlyDriver) Status(context.Context, string) (*Status, error)        { return nil, nil }

func TestProbe(t *testing.T) {
	assert.Equal(t, Capabilities(0), Probe(bareDriver{}))

	caps := Probe(readOnlyDriver{})
	assert.True(t, caps.Has(CapFind))
	assert.True(t, caps.Has(CapStatus))
	assert.True(t, caps.Has(CapFind|CapStatus))
	assert.False(t, caps.Has(CapCreate))
	assert.False(t, caps.Has(CapFind|CapJoin))
	assert.Equal(t, []string{"find", "status"}, caps.List())
	assert.Equal(t, "find,status", caps.String())
}

func TestParseCapability(t *testing.T) {
	c, ok := ParseCapability("findOrCreate")
	assert.True(t, ok)
	assert.Equal(t, CapFindOrCreate, c)

	c, ok = ParseCapability("JOIN")
	assert.True(t, ok)
	assert.Equal(t, "join", c.String())

	_, ok = ParseCapability("teleport")
	assert.False(t, ok)
}

func TestJoinSpec_Query(t *testing.T) {
	j := JoinSpec{Left: "users", Right: "posts", Key: "id", ForeignKey: "userId", RightOuter: true}.Query()
	assert.Equal(t, queryir.RightJoin, j.Kind)
	assert.Equal(t, "userId", j.ForeignKey)
}
