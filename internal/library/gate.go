package library

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"umi3dconnect/internal/media"
)

var ErrDeclined = errors.New("library download declined")

// Approver asks the user whether the listed libraries may be downloaded.
type Approver interface {
	ApproveLibraries(ctx context.Context, libs []media.Library) (bool, error)
}

type ApproverFunc func(ctx context.Context, libs []media.Library) (bool, error)

func (f ApproverFunc) ApproveLibraries(ctx context.Context, libs []media.Library) (bool, error) {
	return f(ctx, libs)
}

// Gate decides whether the required libraries of an environment may be
// fetched before joining it.
type Gate struct {
	approver Approver
}

func NewGate(approver Approver) *Gate {
	return &Gate{approver: approver}
}

// Approve returns true without asking when there is nothing to download.
// A refusal is reported as ErrDeclined.
func (g *Gate) Approve(ctx context.Context, libs []media.Library) (bool, error) {
	if len(libs) == 0 {
		return true, nil
	}
	if g.approver == nil {
		return false, ErrDeclined
	}

	log.Info().Int("libraries", len(libs)).Int64("bytes", TotalSize(libs)).Msg("asking to download libraries")
	ok, err := g.approver.ApproveLibraries(ctx, libs)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrDeclined
	}
	return true, nil
}

func TotalSize(libs []media.Library) int64 {
	var total int64
	for _, lib := range libs {
		total += lib.Size
	}
	return total
}
