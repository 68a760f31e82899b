package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"smartsmeta.app/bot/core/config"
	"smartsmeta.app/bot/internal/estimate"
)

// storeContract runs the behaviour every backend must share.
func storeContract(newStore func() Store) {
	var (
		ctx   context.Context
		store Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newStore()
	})

	It("returns a fresh state for unknown keys", func() {
		state, err := store.Load(ctx, "tg:1")
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(New()))
	})

	It("round-trips phase, turn id and rates", func() {
		saved := State{
			Phase:      PhaseRefining,
			LastTurnID: "resp_9",
			Rates:      estimate.Rates{{Role: "QA", Rate: 3000}},
		}
		Expect(store.Save(ctx, "tg:1", saved)).To(Succeed())

		loaded, err := store.Load(ctx, "tg:1")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).To(Equal(saved))
	})

	It("keeps sessions apart", func() {
		Expect(store.Save(ctx, "tg:1", State{Phase: PhaseInDialog, LastTurnID: "a"})).To(Succeed())
		Expect(store.Save(ctx, "tg:2", State{Phase: PhaseRefining, LastTurnID: "b"})).To(Succeed())

		first, _ := store.Load(ctx, "tg:1")
		Expect(first.LastTurnID).To(Equal("a"))
	})

	It("forgets deleted sessions", func() {
		Expect(store.Save(ctx, "tg:1", State{Phase: PhaseInDialog, LastTurnID: "a"})).To(Succeed())
		Expect(store.Delete(ctx, "tg:1")).To(Succeed())

		state, err := store.Load(ctx, "tg:1")
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(New()))
	})
}

var _ = Describe("MemoryStore", func() {
	storeContract(func() Store {
		s, err := NewMemoryStore(16)
		Expect(err).NotTo(HaveOccurred())
		return s
	})

	It("evicts the least recently used session at capacity", func() {
		ctx := context.Background()
		s, err := NewMemoryStore(2)
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Save(ctx, "a", State{Phase: PhaseInDialog})).To(Succeed())
		Expect(s.Save(ctx, "b", State{Phase: PhaseInDialog})).To(Succeed())
		Expect(s.Save(ctx, "c", State{Phase: PhaseInDialog})).To(Succeed())

		Expect(s.Len()).To(Equal(2))
		state, _ := s.Load(ctx, "a")
		Expect(state.Phase).To(Equal(PhaseAwaitingBrief))
	})

	It("does not share the rates slice with callers", func() {
		ctx := context.Background()
		s, _ := NewMemoryStore(2)
		rates := estimate.Rates{{Role: "QA", Rate: 3000}}
		Expect(s.Save(ctx, "a", State{Phase: PhaseInDialog, Rates: rates})).To(Succeed())

		rates[0].Rate = 1
		state, _ := s.Load(ctx, "a")
		Expect(state.Rates[0].Rate).To(Equal(3000))
	})
})

var _ = Describe("RedisStore", func() {
	var mr *miniredis.Miniredis

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(mr.Close)
	})

	newStore := func() Store {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(client.Close)
		return NewRedisStore(client, "smeta:session:", time.Hour)
	}

	storeContract(newStore)

	It("stores JSON under the prefix with a TTL", func() {
		s := newStore()
		Expect(s.Save(context.Background(), "tg:7", State{Phase: PhaseInDialog, LastTurnID: "resp_1"})).To(Succeed())

		raw, err := mr.Get("smeta:session:tg:7")
		Expect(err).NotTo(HaveOccurred())
		Expect(raw).To(MatchJSON(`{"phase": "in_dialog", "last_turn_id": "resp_1"}`))
		Expect(mr.TTL("smeta:session:tg:7")).To(Equal(time.Hour))
	})

	It("expires idle sessions", func() {
		s := newStore()
		ctx := context.Background()
		Expect(s.Save(ctx, "tg:7", State{Phase: PhaseInDialog})).To(Succeed())

		mr.FastForward(2 * time.Hour)

		state, err := s.Load(ctx, "tg:7")
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(New()))
	})

	It("reports corrupted values", func() {
		s := newStore()
		Expect(mr.Set("smeta:session:tg:7", "not json")).To(Succeed())

		_, err := s.Load(context.Background(), "tg:7")
		Expect(err).To(MatchError(ContainSubstring("decoding session tg:7")))
	})
})

var _ = Describe("Open", func() {
	It("rejects unknown backends", func() {
		_, _, err := Open(context.Background(), config.SessionConfig{Backend: "etcd"})
		Expect(errors.Is(err, ErrUnknownBackend)).To(BeTrue())
	})

	It("defaults to memory", func() {
		store, closeFn, err := Open(context.Background(), config.SessionConfig{})
		Expect(err).NotTo(HaveOccurred())
		defer closeFn()
		Expect(store).To(BeAssignableToTypeOf(&MemoryStore{}))
	})
})

var _ = Describe("Locker", func() {
	It("serialises holders of the same key", func() {
		l := NewLocker()
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			active  int
			maxSeen int
		)

		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := l.Lock("tg:1")
				defer unlock()

				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
			}()
		}
		wg.Wait()

		Expect(maxSeen).To(Equal(1))
		Expect(l.size()).To(BeZero())
	})

	It("does not block different keys", func() {
		l := NewLocker()
		unlockA := l.Lock("a")
		defer unlockA()

		done := make(chan struct{})
		go func() {
			unlock := l.Lock("b")
			unlock()
			close(done)
		}()

		Eventually(done).Should(BeClosed())
	})
})

var _ = Describe("State", func() {
	defaults := estimate.Rates{{Role: "PM", Rate: 4000}}

	It("falls back to default rates", func() {
		Expect(New().EffectiveRates(defaults)).To(Equal(defaults))
	})

	It("prefers session rates", func() {
		own := estimate.Rates{{Role: "PM", Rate: 5000}}
		Expect(State{Rates: own}.EffectiveRates(defaults)).To(Equal(own))
	})
})
