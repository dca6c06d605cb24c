package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forgeline/pipeline/domain"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name   string
		stages []domain.StageStatus
		want   domain.RunStatus
	}{
		{"all success", []domain.StageStatus{domain.StageSuccess, domain.StageSuccess}, domain.RunSuccess},
		{"skips do not fail the run", []domain.StageStatus{domain.StageSuccess, domain.StageSkipped}, domain.RunSuccess},
		{"any failure fails the run", []domain.StageStatus{domain.StageSuccess, domain.StageFailed, domain.StageSkipped}, domain.RunFailed},
		{"pending keeps it in progress", []domain.StageStatus{domain.StageSuccess, domain.StagePending}, domain.RunInProgress},
		{"in-progress keeps it in progress", []domain.StageStatus{domain.StageInProgress}, domain.RunInProgress},
		{"failure wins over in-progress", []domain.StageStatus{domain.StageFailed, domain.StageInProgress}, domain.RunFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := domain.PipelineRun{}
			for _, s := range tt.stages {
				run.Stages = append(run.Stages, domain.Stage{Status: s})
			}
			assert.Equal(t, tt.want, run.DeriveStatus())
		})
	}
}

func TestCloneIsolatesStages(t *testing.T) {
	n := 5
	original := domain.PipelineRun{
		Stages: []domain.Stage{{ID: domain.StageIDTest, Status: domain.StageSuccess, TestsPassed: &n}},
	}

	clone := original.Clone()
	clone.Stages[0].Status = domain.StageFailed
	*clone.Stages[0].TestsPassed = 99

	assert.Equal(t, domain.StageSuccess, original.Stages[0].Status)
	assert.Equal(t, 5, *original.Stages[0].TestsPassed)
}

func TestWireStatusMapping(t *testing.T) {
	assert.Equal(t, domain.StageUnknown, domain.StagePending.Wire())
	assert.Equal(t, domain.StageSuccess, domain.StageSuccess.Wire())
	assert.Equal(t, domain.StageInProgress, domain.StageInProgress.Wire())
	assert.Equal(t, domain.StageSkipped, domain.StageSkipped.Wire())
}

func TestTerminal(t *testing.T) {
	assert.True(t, domain.StageSuccess.Terminal())
	assert.True(t, domain.StageFailed.Terminal())
	assert.True(t, domain.StageSkipped.Terminal())
	assert.False(t, domain.StagePending.Terminal())
	assert.False(t, domain.StageInProgress.Terminal())
}
