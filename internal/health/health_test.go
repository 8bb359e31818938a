// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func staticChecker(name string, status Status) Checker {
	return CheckerFunc{
		CheckerName: name,
		Fn: func(context.Context) CheckResult {
			return CheckResult{Status: status}
		},
	}
}

func TestManager_NoCheckersIsHealthy(t *testing.T) {
	m := NewManager("test")
	resp := m.Health(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Empty(t, resp.Checks)
}

func TestManager_DegradedComponentDegradesOverall(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(staticChecker("sla", StatusHealthy))
	m.RegisterChecker(staticChecker("cache", StatusDegraded))

	resp := m.Health(context.Background())
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestManager_UnhealthyWinsOverDegraded(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(staticChecker("cache", StatusDegraded))
	m.RegisterChecker(staticChecker("redis", StatusUnhealthy))
	m.RegisterChecker(staticChecker("sla", StatusHealthy))

	resp := m.Health(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
}
