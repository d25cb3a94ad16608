package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to InstanceStatus
		want     bool
	}{
		{InstanceStatusCreated, InstanceStatusQRGenerated, true},
		{InstanceStatusCreated, InstanceStatusConnected, false},
		{InstanceStatusQRGenerated, InstanceStatusQRGenerated, true},
		{InstanceStatusQRGenerated, InstanceStatusConnected, true},
		{InstanceStatusConnected, InstanceStatusDisconnected, true},
		{InstanceStatusConnected, InstanceStatusQRGenerated, false},
		{InstanceStatusConnected, InstanceStatusCreated, false},
		{InstanceStatusDisconnected, InstanceStatusConnected, true},
		{InstanceStatusDisconnected, InstanceStatusQRGenerated, true},
		{InstanceStatusError, InstanceStatusQRGenerated, true},
		{InstanceStatusError, InstanceStatusConnected, false},
		{InstanceStatusNotFoundInEvolution, InstanceStatusQRGenerated, true},
		{InstanceStatusCreated, InstanceStatusError, true},
		{InstanceStatusConnected, InstanceStatusError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestSourcesFor(t *testing.T) {
	assert.ElementsMatch(t,
		[]InstanceStatus{InstanceStatusQRGenerated, InstanceStatusDisconnected},
		SourcesFor(InstanceStatusConnected),
	)
	assert.Len(t, SourcesFor(InstanceStatusError), len(transitions))
}

func TestInstanceName(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "wa-LOC_1", InstanceName("LOC_1", 1, now))
	assert.Equal(t, "wa-LOC_1-2", InstanceName("LOC_1", 2, now))
	assert.Regexp(t, `^wa-[0-9a-z]+$`, InstanceName("", 0, now))
}
