package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransaction_PendingSetsStayDisjoint(t *testing.T) {
	var x Transaction

	x.AddPending("a")
	x.RemovePending("a") // a already pending_add: must not also land in pending_remove
	assert.Equal(t, []string{"a"}, x.PendingAdd)
	assert.Empty(t, x.PendingRemove)

	x.RemovePending("b")
	x.AddPending("b") // b already pending_remove: must not also land in pending_add
	assert.Equal(t, []string{"b"}, x.PendingRemove)
	assert.Equal(t, []string{"a"}, x.PendingAdd)
}
