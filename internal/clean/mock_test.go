package clean

import (
	"context"
	"errors"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/blob"
)

// failingCopyStore fails every Copy, simulating a crash between the
// temporary write and the publish.
type failingCopyStore struct {
	*blob.Memory
}

func (f failingCopyStore) Copy(context.Context, string, string, string) error {
	return errors.New("copy interrupted")
}
