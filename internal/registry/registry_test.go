package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"pgregory.net/rapid"
)

func newTestRegistry() *Registry {
	return New(bcrypt.MinCost)
}

func ptr(s string) *string { return &s }

func TestRegistry_Login(t *testing.T) {
	r := newTestRegistry()
	n, err := r.Login("c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	user, ok := r.SessionUser("c1")
	require.True(t, ok)
	assert.Equal(t, "alice", user)

	n, err = r.Login("c2", "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRegistry_LoginAlreadyLoggedIn(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Login("c1", "alice")
	require.NoError(t, err)

	_, err = r.Login("c2", "alice")
	var already *AlreadyLoggedInError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "alice", already.Name)
	assert.Contains(t, err.Error(), "alice")

	user, ok := r.SessionUser("c1")
	require.True(t, ok)
	assert.Equal(t, "alice", user)
	_, ok = r.SessionUser("c2")
	assert.False(t, ok)
	assert.Equal(t, 1, r.UserCount())
}

func TestRegistry_LoginFailureKeepsExistingSession(t *testing.T) {
	r := newTestRegistry()
	_, _ = r.Login("c1", "alice")
	_, _ = r.Login("c2", "bob")

	_, err := r.Login("c2", "alice")
	require.Error(t, err)

	user, ok := r.SessionUser("c2")
	require.True(t, ok)
	assert.Equal(t, "bob", user)
}

func TestRegistry_ReloginSameConnection(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Login("c1", "alice")
	require.NoError(t, err)

	n, err := r.Login("c1", "alice2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The old name is released.
	_, err = r.Login("c2", "alice")
	assert.NoError(t, err)
}

func TestRegistry_ReloginSameName(t *testing.T) {
	r := newTestRegistry()
	_, _ = r.Login("c1", "alice")
	n, err := r.Login("c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegistry_LoginEmptyName(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Login("c1", "")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestRegistry_Logout(t *testing.T) {
	r := newTestRegistry()
	_, _ = r.Login("c1", "alice")

	user, ok, err := r.Logout("c1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice", user)
	assert.Equal(t, 0, r.UserCount())

	_, err = r.Login("c2", "alice")
	assert.NoError(t, err)
}

func TestRegistry_LogoutWithoutSession(t *testing.T) {
	r := newTestRegistry()
	_, ok, err := r.Logout("nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_CreateRoom(t *testing.T) {
	r := newTestRegistry()
	_, _ = r.Login("c1", "alice")

	info, err := r.CreateRoom("c1", "r1", "d", nil)
	require.NoError(t, err)
	assert.Equal(t, "r1", info.Name)
	assert.Equal(t, "d", info.Description)
	assert.False(t, info.Protected)
	assert.Equal(t, []string{"alice"}, info.Members)

	got, ok := r.Room("r1")
	require.True(t, ok)
	assert.Equal(t, info, got)
}

func TestRegistry_CreateRoomExisting(t *testing.T) {
	r := newTestRegistry()
	_, _ = r.Login("c1", "alice")
	_, _ = r.Login("c2", "bob")
	_, err := r.CreateRoom("c1", "r1", "d", nil)
	require.NoError(t, err)

	_, err = r.CreateRoom("c2", "r1", "other", ptr("pw"))
	var exists *RoomExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, "r1", exists.Name)

	got, ok := r.Room("r1")
	require.True(t, ok)
	assert.Equal(t, "d", got.Description)
	assert.False(t, got.Protected)
	assert.Equal(t, []string{"alice"}, got.Members)
}

func TestRegistry_CreateRoomNotLoggedIn(t *testing.T) {
	r := newTestRegistry()
	_, err := r.CreateRoom("c1", "r1", "d", nil)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	_, ok := r.Room("r1")
	assert.False(t, ok)
}

func TestRegistry_CreateRoomMovesCreator(t *testing.T) {
	r := newTestRegistry()
	_, _ = r.Login("c1", "alice")
	_, _ = r.CreateRoom("c1", "r1", "", nil)
	_, _ = r.CreateRoom("c1", "r2", "", nil)

	r1, _ := r.Room("r1")
	r2, _ := r.Room("r2")
	assert.Empty(t, r1.Members)
	assert.Equal(t, []string{"alice"}, r2.Members)
}

func TestRegistry_LogoutLeavesRoom(t *testing.T) {
	r := newTestRegistry()
	_, _ = r.Login("c1", "alice")
	_, _ = r.CreateRoom("c1", "r1", "d", nil)
	_, _, _ = r.Logout("c1")

	info, ok := r.Room("r1")
	require.True(t, ok, "rooms outlive their creator")
	assert.Empty(t, info.Members)
}

func TestRegistry_JoinRoomOpen(t *testing.T) {
	r := newTestRegistry()
	_, _ = r.Login("c1", "alice")
	_, _ = r.Login("c2", "bob")
	_, _ = r.CreateRoom("c1", "r1", "d", nil)

	info, err := r.JoinRoom("c2", "r1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, info.Members, "members are sorted")
}

func TestRegistry_JoinRoomPassword(t *testing.T) {
	r := newTestRegistry()
	_, _ = r.Login("c1", "alice")
	_, _ = r.Login("c2", "bob")
	info, err := r.CreateRoom("c1", "r1", "d", ptr("sesame"))
	require.NoError(t, err)
	assert.True(t, info.Protected)

	_, err = r.JoinRoom("c2", "r1", "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)
	got, _ := r.Room("r1")
	assert.Equal(t, []string{"alice"}, got.Members)

	_, err = r.JoinRoom("c2", "r1", "sesame")
	require.NoError(t, err)
	got, _ = r.Room("r1")
	assert.ElementsMatch(t, []string{"alice", "bob"}, got.Members)
}

func TestRegistry_JoinRoomNotFound(t *testing.T) {
	r := newTestRegistry()
	_, _ = r.Login("c1", "alice")
	_, err := r.JoinRoom("c1", "nope", "")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRegistry_JoinRoomNotLoggedIn(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.SeedRoom("lobby", "main", ""))
	_, err := r.JoinRoom("c1", "lobby", "")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestRegistry_SnapshotCreationOrder(t *testing.T) {
	r := newTestRegistry()
	_, _ = r.Login("c1", "alice")
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := r.CreateRoom("c1", name, "desc-"+name, nil)
		require.NoError(t, err)
	}

	snap, err := r.SnapshotRooms()
	require.NoError(t, err)
	require.Len(t, snap, 3)
	assert.Equal(t, "zeta", snap[0].Name)
	assert.Equal(t, "alpha", snap[1].Name)
	assert.Equal(t, "mid", snap[2].Name)
	assert.Equal(t, "desc-alpha", snap[1].Description)
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	r := newTestRegistry()
	_, _ = r.Login("c1", "alice")
	_, _ = r.CreateRoom("c1", "r1", "d", nil)

	snap, err := r.SnapshotRooms()
	require.NoError(t, err)
	snap[0].Members[0] = "mallory"

	got, _ := r.Room("r1")
	assert.Equal(t, []string{"alice"}, got.Members)
}

func TestRegistry_Closed(t *testing.T) {
	r := newTestRegistry()
	_, _ = r.Login("c1", "alice")
	r.Close()

	_, err := r.Login("c2", "bob")
	assert.ErrorIs(t, err, ErrRegistryClosed)
	_, _, err = r.Logout("c1")
	assert.ErrorIs(t, err, ErrRegistryClosed)
	_, err = r.CreateRoom("c1", "r1", "", nil)
	assert.ErrorIs(t, err, ErrRegistryClosed)
	_, err = r.SnapshotRooms()
	assert.ErrorIs(t, err, ErrRegistryClosed)
	assert.ErrorIs(t, r.SeedRoom("x", "", ""), ErrRegistryClosed)
}

func TestRegistry_ConcurrentLoginSameName(t *testing.T) {
	r := newTestRegistry()
	const n = 100
	var wg sync.WaitGroup
	var wins atomic.Int32

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			if _, err := r.Login(ConnID(fmt.Sprintf("c%d", i)), "alice"); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, r.UserCount())
}

func TestRegistry_ConcurrentCreateSameRoom(t *testing.T) {
	r := newTestRegistry()
	const n = 50
	for i := 0; i < n; i++ {
		_, err := r.Login(ConnID(fmt.Sprintf("c%d", i)), fmt.Sprintf("user%d", i))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var wins atomic.Int32
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := r.CreateRoom(ConnID(fmt.Sprintf("c%d", i)), "r1", fmt.Sprintf("d%d", i), nil)
			if err == nil {
				wins.Add(1)
				return
			}
			var exists *RoomExistsError
			if !errors.As(err, &exists) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	snap, err := r.SnapshotRooms()
	require.NoError(t, err)
	assert.Len(t, snap, 1)
	assert.Len(t, snap[0].Members, 1)
}

func TestRegistry_ConcurrentLoginLogout(t *testing.T) {
	r := newTestRegistry()
	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			conn := ConnID(fmt.Sprintf("c%d", i))
			_, _ = r.Login(conn, fmt.Sprintf("u%d", i))
			_, _ = r.CreateRoom(conn, fmt.Sprintf("room%d", i), "", nil)
			_, _ = r.SnapshotRooms()
			_, _, _ = r.Logout(conn)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.UserCount())
	snap, err := r.SnapshotRooms()
	require.NoError(t, err)
	assert.Len(t, snap, n)
	for _, room := range snap {
		assert.Empty(t, room.Members)
	}
}

// TestPropertyUsernameBoundToOneConnection drives random login/logout
// sequences and checks that the registry agrees with a simple model.
func TestPropertyUsernameBoundToOneConnection(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := newTestRegistry()
		conns := []ConnID{"c0", "c1", "c2", "c3"}
		names := []string{"alice", "bob", "carol"}
		model := map[ConnID]string{}

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			conn := conns[rapid.IntRange(0, len(conns)-1).Draw(t, "conn")]
			if rapid.Bool().Draw(t, "logout") {
				_, _, err := r.Logout(conn)
				if err != nil {
					t.Fatalf("logout: %v", err)
				}
				delete(model, conn)
				continue
			}

			name := names[rapid.IntRange(0, len(names)-1).Draw(t, "name")]
			holder := ConnID("")
			for c, n := range model {
				if n == name {
					holder = c
				}
			}
			_, err := r.Login(conn, name)
			if holder != "" && holder != conn {
				var already *AlreadyLoggedInError
				if !errors.As(err, &already) {
					t.Fatalf("login %s as %s held by %s: got %v", conn, name, holder, err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("login %s as %s: %v", conn, name, err)
			}
			model[conn] = name
		}

		owners := map[string]ConnID{}
		for _, c := range conns {
			user, ok := r.SessionUser(c)
			want, wantOK := model[c]
			if ok != wantOK || user != want {
				t.Fatalf("conn %s: registry %q/%v, model %q/%v", c, user, ok, want, wantOK)
			}
			if !ok {
				continue
			}
			if other, dup := owners[user]; dup {
				t.Fatalf("user %s bound to %s and %s", user, other, c)
			}
			owners[user] = c
		}
		if r.UserCount() != len(model) {
			t.Fatalf("user count %d, model %d", r.UserCount(), len(model))
		}
	})
}

func TestPropertyExistingRoomNeverMutated(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := newTestRegistry()
		if _, err := r.Login("owner", "alice"); err != nil {
			t.Fatalf("login: %v", err)
		}
		if _, err := r.Login("other", "bob"); err != nil {
			t.Fatalf("login: %v", err)
		}
		original, err := r.CreateRoom("owner", "r1", "orig", nil)
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		attempts := rapid.IntRange(1, 5).Draw(t, "attempts")
		for i := 0; i < attempts; i++ {
			desc := rapid.String().Draw(t, "desc")
			var pw *string
			if rapid.Bool().Draw(t, "with_password") {
				pw = ptr("x")
			}
			if _, err := r.CreateRoom("other", "r1", desc, pw); err == nil {
				t.Fatalf("duplicate room accepted")
			}
		}

		got, ok := r.Room("r1")
		if !ok {
			t.Fatalf("room vanished")
		}
		if got.Description != original.Description || got.Protected != original.Protected ||
			len(got.Members) != 1 || got.Members[0] != "alice" {
			t.Fatalf("room mutated: %+v -> %+v", original, got)
		}
	})
}

func TestRegistry_RoomLimit(t *testing.T) {
	r := New(bcrypt.MinCost, WithMaxRooms(2))
	_, _ = r.Login("c1", "alice")
	require.NoError(t, r.SeedRoom("seeded", "", ""))

	_, err := r.CreateRoom("c1", "r1", "d", nil)
	require.NoError(t, err)

	_, err = r.CreateRoom("c1", "r2", "d", nil)
	assert.ErrorIs(t, err, ErrRoomLimit)
	assert.ErrorIs(t, r.SeedRoom("r3", "", ""), ErrRoomLimit)

	snap, err := r.SnapshotRooms()
	require.NoError(t, err)
	assert.Len(t, snap, 2)

	// alice stays in the room she created
	room, ok := r.Room("r1")
	require.True(t, ok)
	assert.Equal(t, []string{"alice"}, room.Members)
}

func TestRegistry_DefaultRoomLimitFitsRoomList(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < DefaultMaxRooms; i++ {
		require.NoError(t, r.SeedRoom(fmt.Sprintf("room-%d", i), "", ""))
	}
	_, _ = r.Login("c1", "alice")
	_, err := r.CreateRoom("c1", "one-too-many", "", nil)
	assert.ErrorIs(t, err, ErrRoomLimit)

	snap, err := r.SnapshotRooms()
	require.NoError(t, err)
	assert.Len(t, snap, DefaultMaxRooms)
}

func TestWithMaxRoomsIgnoresOutOfRange(t *testing.T) {
	assert.Equal(t, DefaultMaxRooms, New(bcrypt.MinCost, WithMaxRooms(0)).maxRooms)
	assert.Equal(t, DefaultMaxRooms, New(bcrypt.MinCost, WithMaxRooms(DefaultMaxRooms+1)).maxRooms)
	assert.Equal(t, 5, New(bcrypt.MinCost, WithMaxRooms(5)).maxRooms)
}

func TestRegistry_EmptyPasswordIsOpen(t *testing.T) {
	r := newTestRegistry()
	_, _ = r.Login("c1", "alice")
	_, _ = r.Login("c2", "bob")

	created, err := r.CreateRoom("c1", "r1", "d", ptr(""))
	require.NoError(t, err)
	assert.False(t, created.Protected)
	require.NoError(t, r.SeedRoom("seeded", "", ""))

	snap, err := r.SnapshotRooms()
	require.NoError(t, err)
	for _, room := range snap {
		assert.False(t, room.Protected, room.Name)
	}

	_, err = r.JoinRoom("c2", "r1", "anything")
	assert.NoError(t, err)
}
