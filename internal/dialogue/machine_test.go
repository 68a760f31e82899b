package dialogue_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"smartsmeta.app/bot/internal/dialogue"
	"smartsmeta.app/bot/internal/estimate"
	"smartsmeta.app/bot/internal/gpt"
	"smartsmeta.app/bot/internal/render"
	"smartsmeta.app/bot/internal/session"
)

const key = "tg:42"

var defaultRates = estimate.Rates{{Role: "QA", Rate: 3500}, {Role: "Backend", Rate: 4500}}

func readyTurn() *estimate.TurnResult {
	return &estimate.TurnResult{
		Status: estimate.StatusReady,
		Result: &estimate.EstimateResult{
			ProjectName:  "Shop",
			ScopeSummary: "Catalog",
			Variants: []estimate.Variant{{
				Name: "MVP",
				Phases: []estimate.Phase{{Name: "Build", Tasks: []estimate.TaskLine{
					{Task: "API", Role: "Backend", HoursMin: 8, HoursBase: 10, HoursMax: 12},
				}}},
			}},
		},
	}
}

func replies(turns ...*estimate.TurnResult) func(context.Context, string, string, string) (*estimate.TurnResult, string, error) {
	i := 0
	return func(context.Context, string, string, string) (*estimate.TurnResult, string, error) {
		turn := turns[i]
		i++
		return turn, fmt.Sprintf("resp_%d", i), nil
	}
}

var _ = Describe("Machine", func() {
	var (
		ctx       context.Context
		store     *session.MemoryStore
		exchanger *mockExchanger
		replier   *mockReplier
		renderers []render.Renderer
		m         *dialogue.Machine
	)

	build := func() {
		m = dialogue.New(dialogue.Config{
			Store:        store,
			Exchanger:    exchanger,
			Renderers:    renderers,
			DefaultRates: defaultRates,
			KeepAlive:    5 * time.Millisecond,
			Version:      "test",
		})
	}

	seed := func(state session.State) {
		Expect(store.Save(ctx, key, state)).To(Succeed())
	}

	load := func() session.State {
		state, err := store.Load(ctx, key)
		Expect(err).NotTo(HaveOccurred())
		return state
	}

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		store, err = session.NewMemoryStore(16)
		Expect(err).NotTo(HaveOccurred())
		exchanger = &mockExchanger{}
		replier = &mockReplier{}
		renderers = []render.Renderer{stubRenderer{format: "html"}, stubRenderer{format: "pdf"}}
		build()
	})

	Describe("HandleMessage", func() {
		It("goes from brief straight to refining and threads the turn id into the refine turn", func() {
			exchanger.exchangeFn = replies(readyTurn(), readyTurn())

			Expect(m.HandleMessage(ctx, key, "Need a shop", replier)).To(Succeed())

			state := load()
			Expect(state.Phase).To(Equal(session.PhaseRefining))
			Expect(state.LastTurnID).To(Equal("resp_1"))
			Expect(replier.docs).To(HaveLen(2))
			Expect(replier.docs[0].Filename).To(Equal("Shop.html"))
			Expect(replier.docs[1].Filename).To(Equal("Shop.pdf"))

			Expect(m.HandleMessage(ctx, key, "Add a blog", replier)).To(Succeed())

			Expect(exchanger.calls).To(HaveLen(2))
			Expect(exchanger.calls[0].PriorTurnID).To(BeEmpty())
			Expect(exchanger.calls[1].PriorTurnID).To(Equal("resp_1"))
			Expect(exchanger.calls[1].UserMessage).To(Equal("Add a blog"))
			Expect(load().Phase).To(Equal(session.PhaseRefining))
			Expect(load().LastTurnID).To(Equal("resp_2"))
		})

		It("numbers follow-up questions and moves to in_dialog", func() {
			exchanger.exchangeFn = replies(&estimate.TurnResult{
				Status:    estimate.StatusNeedInfo,
				Questions: []string{"A?", "B?"},
			})

			Expect(m.HandleMessage(ctx, key, "brief", replier)).To(Succeed())

			Expect(replier.Texts()).To(HaveLen(1))
			Expect(replier.Texts()[0]).To(ContainSubstring("1. A?\n2. B?"))
			Expect(load().Phase).To(Equal(session.PhaseInDialog))
			Expect(load().LastTurnID).To(Equal("resp_1"))
		})

		It("asks for details when need_info carries no questions", func() {
			exchanger.exchangeFn = replies(&estimate.TurnResult{Status: estimate.StatusNeedInfo})

			Expect(m.HandleMessage(ctx, key, "brief", replier)).To(Succeed())

			Expect(replier.Texts()).To(ConsistOf(ContainSubstring("Нужно больше деталей")))
			Expect(load().Phase).To(Equal(session.PhaseInDialog))
		})

		It("keeps state on upstream failure", func() {
			seed(session.State{Phase: session.PhaseInDialog, LastTurnID: "resp_7"})
			exchanger.exchangeFn = func(context.Context, string, string, string) (*estimate.TurnResult, string, error) {
				return nil, "", &gpt.UpstreamError{Err: errors.New("connection reset"), Retryable: true}
			}

			Expect(m.HandleMessage(ctx, key, "answers", replier)).To(Succeed())

			state := load()
			Expect(state.Phase).To(Equal(session.PhaseInDialog))
			Expect(state.LastTurnID).To(Equal("resp_7"))
			Expect(exchanger.calls[0].PriorTurnID).To(Equal("resp_7"))
			Expect(replier.Texts()).To(ConsistOf(ContainSubstring("Попробуйте ещё раз")))
		})

		It("stays in awaiting_brief when the first turn fails upstream", func() {
			exchanger.exchangeFn = func(context.Context, string, string, string) (*estimate.TurnResult, string, error) {
				return nil, "", &gpt.UpstreamError{Err: errors.New("503")}
			}

			Expect(m.HandleMessage(ctx, key, "brief", replier)).To(Succeed())

			Expect(load()).To(Equal(session.New()))
		})

		It("does not invite a retry when the model refuses the request", func() {
			seed(session.State{Phase: session.PhaseInDialog, LastTurnID: "resp_7"})
			exchanger.exchangeFn = func(context.Context, string, string, string) (*estimate.TurnResult, string, error) {
				return nil, "", &gpt.UpstreamError{Err: errors.New("400 bad request"), Retryable: false}
			}

			Expect(m.HandleMessage(ctx, key, "answers", replier)).To(Succeed())

			Expect(replier.Texts()).To(ConsistOf(ContainSubstring("GPT отклонил запрос")))
			Expect(replier.Texts()).NotTo(ContainElement(ContainSubstring("Попробуйте ещё раз")))
			Expect(load().LastTurnID).To(Equal("resp_7"))
		})

		It("starts a fresh thread for a brief resent after a rejected first reply", func() {
			exchanger.exchangeFn = func(context.Context, string, string, string) (*estimate.TurnResult, string, error) {
				return nil, "resp_bad", &gpt.ProtocolError{TurnID: "resp_bad", Err: errors.New("no json")}
			}
			Expect(m.HandleMessage(ctx, key, "brief", replier)).To(Succeed())
			Expect(load()).To(Equal(session.State{Phase: session.PhaseAwaitingBrief, LastTurnID: "resp_bad"}))

			exchanger.exchangeFn = replies(&estimate.TurnResult{Status: estimate.StatusNeedInfo, Questions: []string{"Q?"}})
			Expect(m.HandleMessage(ctx, key, "brief again", replier)).To(Succeed())

			Expect(exchanger.calls).To(HaveLen(2))
			Expect(exchanger.calls[0].PriorTurnID).To(BeEmpty())
			Expect(exchanger.calls[1].PriorTurnID).To(BeEmpty())
			Expect(load()).To(Equal(session.State{Phase: session.PhaseInDialog, LastTurnID: "resp_1"}))
		})

		It("records the turn id of a rejected reply without advancing", func() {
			seed(session.State{Phase: session.PhaseRefining, LastTurnID: "resp_1"})
			exchanger.exchangeFn = func(context.Context, string, string, string) (*estimate.TurnResult, string, error) {
				return nil, "resp_2", &gpt.ProtocolError{TurnID: "resp_2", Err: errors.New("no json")}
			}

			Expect(m.HandleMessage(ctx, key, "change it", replier)).To(Succeed())

			state := load()
			Expect(state.Phase).To(Equal(session.PhaseRefining))
			Expect(state.LastTurnID).To(Equal("resp_2"))
			Expect(replier.Texts()).To(ConsistOf(ContainSubstring("Неожиданный ответ")))
		})

		DescribeTable("treats unhandled replies as protocol violations",
			func(turn *estimate.TurnResult) {
				seed(session.State{Phase: session.PhaseRefining, LastTurnID: "resp_0"})
				exchanger.exchangeFn = replies(turn)

				Expect(m.HandleMessage(ctx, key, "text", replier)).To(Succeed())

				state := load()
				Expect(state.Phase).To(Equal(session.PhaseInDialog))
				Expect(state.LastTurnID).To(Equal("resp_1"))
				Expect(replier.Texts()).To(ConsistOf(ContainSubstring("Неожиданный ответ")))
				Expect(replier.docs).To(BeEmpty())
			},
			Entry("ready without result", &estimate.TurnResult{Status: estimate.StatusReady}),
			Entry("unknown status", &estimate.TurnResult{Status: "thinking"}),
		)

		It("moves to refining even when every format fails", func() {
			renderers = []render.Renderer{
				stubRenderer{format: "html", err: errors.New("template")},
				stubRenderer{format: "pdf", err: errors.New("font")},
			}
			build()
			exchanger.exchangeFn = replies(readyTurn())

			Expect(m.HandleMessage(ctx, key, "brief", replier)).To(Succeed())

			Expect(load().Phase).To(Equal(session.PhaseRefining))
			Expect(replier.docs).To(BeEmpty())
			Expect(replier.Texts()).To(HaveLen(2))
			Expect(replier.Texts()[1]).To(ContainSubstring("Ошибка при генерации файлов"))
		})

		It("delivers the formats that rendered", func() {
			renderers = []render.Renderer{
				stubRenderer{format: "html", err: errors.New("template")},
				stubRenderer{format: "pdf"},
			}
			build()
			exchanger.exchangeFn = replies(readyTurn())

			Expect(m.HandleMessage(ctx, key, "brief", replier)).To(Succeed())

			Expect(replier.docs).To(HaveLen(1))
			Expect(replier.docs[0].Format).To(Equal("pdf"))
			Expect(replier.Texts()[len(replier.Texts())-1]).To(HavePrefix("Готово!"))
		})

		It("reports failure when no document could be sent", func() {
			replier.docErr = errors.New("file too big")
			exchanger.exchangeFn = replies(readyTurn())

			Expect(m.HandleMessage(ctx, key, "brief", replier)).To(Succeed())

			Expect(replier.Texts()[len(replier.Texts())-1]).To(ContainSubstring("Ошибка при генерации файлов"))
			Expect(load().Phase).To(Equal(session.PhaseRefining))
		})

		It("ignores messages after cancel", func() {
			seed(session.State{Phase: session.PhaseEnded})

			Expect(m.HandleMessage(ctx, key, "hello", replier)).To(Succeed())

			Expect(exchanger.calls).To(BeEmpty())
			Expect(replier.Texts()).To(ConsistOf(ContainSubstring("/new")))
		})

		It("builds the prompt from the session rates", func() {
			seed(session.State{Phase: session.PhaseInDialog, Rates: estimate.Rates{{Role: "QA", Rate: 3800}}})
			exchanger.exchangeFn = replies(&estimate.TurnResult{Status: estimate.StatusNeedInfo, Questions: []string{"?"}})

			Expect(m.HandleMessage(ctx, key, "text", replier)).To(Succeed())

			Expect(exchanger.calls[0].SystemPrompt).To(ContainSubstring("- QA: 3800"))
			Expect(exchanger.calls[0].SystemPrompt).NotTo(ContainSubstring("- Backend:"))
		})

		It("returns the store error when the turn cannot be saved", func() {
			failing := failingStore{Store: store, saveErr: errors.New("redis down")}
			m = dialogue.New(dialogue.Config{Store: failing, Exchanger: exchanger, DefaultRates: defaultRates})
			exchanger.exchangeFn = replies(readyTurn())

			err := m.HandleMessage(ctx, key, "brief", replier)

			Expect(err).To(MatchError(ContainSubstring("redis down")))
			Expect(replier.docs).To(BeEmpty())
		})
	})

	Describe("keep-alive", func() {
		It("signals typing while the model works and stops afterwards", func() {
			exchanger.exchangeFn = func(ctx context.Context, _, _, _ string) (*estimate.TurnResult, string, error) {
				deadline := time.Now().Add(2 * time.Second)
				for replier.TypingCount() < 3 && time.Now().Before(deadline) {
					time.Sleep(time.Millisecond)
				}
				return &estimate.TurnResult{Status: estimate.StatusNeedInfo, Questions: []string{"?"}}, "resp_1", nil
			}

			Expect(m.HandleMessage(ctx, key, "brief", replier)).To(Succeed())

			count := replier.TypingCount()
			Expect(count).To(BeNumerically(">=", 3))
			Consistently(replier.TypingCount, 50*time.Millisecond, 5*time.Millisecond).Should(Equal(count))
		})

		It("cancels a pending typing call on the failure path", func() {
			started := make(chan struct{}, 1)
			replier.typingFn = func(ctx context.Context) error {
				select {
				case started <- struct{}{}:
				default:
				}
				<-ctx.Done()
				return ctx.Err()
			}
			exchanger.exchangeFn = func(context.Context, string, string, string) (*estimate.TurnResult, string, error) {
				<-started
				return nil, "", &gpt.UpstreamError{Err: errors.New("timeout")}
			}

			done := make(chan error, 1)
			go func() { done <- m.HandleMessage(ctx, key, "brief", replier) }()

			Eventually(done, time.Second).Should(Receive(BeNil()))
			Expect(replier.TypingCount()).To(Equal(1))
		})
	})

	Describe("commands", func() {
		It("Start clears the session including rates", func() {
			seed(session.State{Phase: session.PhaseRefining, LastTurnID: "resp_3", Rates: estimate.Rates{{Role: "QA", Rate: 1}}})

			Expect(m.Start(ctx, key, replier)).To(Succeed())

			Expect(load()).To(Equal(session.New()))
			Expect(replier.Texts()[0]).To(HavePrefix("Привет!"))
			Expect(replier.Texts()[0]).To(ContainSubstring("HTML + PDF"))
		})

		It("Reset forgets the turn but keeps rates", func() {
			rates := estimate.Rates{{Role: "QA", Rate: 3000}}
			seed(session.State{Phase: session.PhaseRefining, LastTurnID: "resp_3", Rates: rates})

			Expect(m.Reset(ctx, key, replier)).To(Succeed())

			Expect(load()).To(Equal(session.State{Phase: session.PhaseAwaitingBrief, Rates: rates}))
		})

		It("Cancel ends the session and a reset reopens it", func() {
			seed(session.State{Phase: session.PhaseInDialog, LastTurnID: "resp_3"})

			Expect(m.Cancel(ctx, key, replier)).To(Succeed())
			Expect(load()).To(Equal(session.State{Phase: session.PhaseEnded}))

			Expect(m.Reset(ctx, key, replier)).To(Succeed())
			Expect(load().Phase).To(Equal(session.PhaseAwaitingBrief))
		})

		It("ShowRates lists the effective rates in order", func() {
			Expect(m.ShowRates(ctx, key, replier)).To(Succeed())

			Expect(replier.Texts()).To(ConsistOf("Текущие ставки:\n  QA: 3500 руб/ч\n  Backend: 4500 руб/ч"))
		})

		It("SetRate overrides a role matched case-insensitively", func() {
			Expect(m.SetRate(ctx, key, "qa 3800", replier)).To(Succeed())

			rates := load().Rates
			Expect(rates).To(Equal(estimate.Rates{{Role: "QA", Rate: 3800}, {Role: "Backend", Rate: 4500}}))
			Expect(defaultRates[0].Rate).To(Equal(3500))
		})

		It("SetRate appends a new multi-word role", func() {
			Expect(m.SetRate(ctx, key, "Data Scientist 6000", replier)).To(Succeed())

			rate, ok := load().Rates.Lookup("Data Scientist")
			Expect(ok).To(BeTrue())
			Expect(rate).To(Equal(6000))
		})

		DescribeTable("SetRate rejects bad input without touching the session",
			func(args, reply string) {
				Expect(m.SetRate(ctx, key, args, replier)).To(Succeed())

				Expect(load().Rates).To(BeNil())
				Expect(replier.Texts()).To(ConsistOf(ContainSubstring(reply)))
			},
			Entry("no args", "", "Формат"),
			Entry("role only", "QA", "Формат"),
			Entry("not a number", "QA lots", "неотрицательным"),
			Entry("negative", "QA -5", "неотрицательным"),
		)

		It("SetRate reset restores the defaults", func() {
			seed(session.State{Phase: session.PhaseInDialog, Rates: estimate.Rates{{Role: "QA", Rate: 1}}})

			Expect(m.SetRate(ctx, key, "reset", replier)).To(Succeed())

			Expect(load().Rates).To(BeNil())
			Expect(load().Phase).To(Equal(session.PhaseInDialog))
		})

		It("Help mentions the version", func() {
			Expect(m.Help(ctx, key, replier)).To(Succeed())
			Expect(replier.Texts()[0]).To(ContainSubstring("Версия: test"))
		})
	})
})
