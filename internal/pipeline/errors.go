package pipeline

import (
	"errors"

	"github.com/allaspectsdev/transgate/internal/provider"
)

var errAllTiersFailed = errors.New("all translation providers failed or exceeded budget")

func isQuotaErr(err error) bool {
	return errors.Is(err, provider.ErrQuotaExceeded)
}
