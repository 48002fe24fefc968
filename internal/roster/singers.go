package roster

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"karaoke/internal/core"
)

// Singers is the party's singer roster. Names are unique ignoring case and
// surrounding whitespace.
type Singers struct {
	*Collection[core.Singer]
	now func() time.Time
}

func singerIdentity(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func NewSingers(store core.Store, party string, logger *zap.Logger, recorder core.Recorder) *Singers {
	return &Singers{
		Collection: newCollection(store, core.SingersPath(party), "singers",
			core.DecodeSinger,
			func(s core.Singer) string { return singerIdentity(s.Name) },
			logger, recorder),
		now: time.Now,
	}
}

// Join adds a singer to the roster.
func (s *Singers) Join(ctx context.Context, name string) (core.Singer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Singer{}, fmt.Errorf("%w: singer name is required", core.ErrInvalid)
	}

	singer := core.Singer{Name: name, JoinedAt: s.now().UnixMilli()}
	key, err := s.Add(ctx, singer)
	if err != nil {
		return core.Singer{}, err
	}
	singer.Key = key
	return singer, nil
}

// Leave removes the singer with name.
func (s *Singers) Leave(ctx context.Context, name string) error {
	return s.Remove(ctx, singerIdentity(name))
}

// Lookup finds a singer by name.
func (s *Singers) Lookup(ctx context.Context, name string) (core.Singer, bool, error) {
	return s.Find(ctx, singerIdentity(name))
}
