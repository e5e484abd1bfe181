package inmem

import (
	"testing"

	"github.com/meikuraledutech/flow/storetest"
)

func TestInMem(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T) storetest.Storage {
		return New()
	})
}
