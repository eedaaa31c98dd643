package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/okian/ascend/internal/adapters/http/api"
	"github.com/okian/ascend/internal/adapters/mq/queue"
	service "github.com/okian/ascend/internal/app"
	"github.com/okian/ascend/internal/domain/progression"
	"github.com/okian/ascend/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

// mockDependencies implements api.Dependencies for testing.
type mockDependencies struct {
	mu       sync.Mutex
	users    map[string]progression.State
	applied  map[string]progression.Outcome
	enqueued []queue.Request
	history  map[string][]progression.TierRecord

	applyErr   error
	enqueueErr error
	realignErr error
}

func newMockDependencies() *mockDependencies {
	return &mockDependencies{
		users:   make(map[string]progression.State),
		applied: make(map[string]progression.Outcome),
	}
}

func (m *mockDependencies) ApplyReward(ctx context.Context, userID, submissionID string, metrics scoring.Metrics) (progression.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return progression.Outcome{}, m.applyErr
	}
	if err := metrics.Validate(); err != nil {
		return progression.Outcome{}, fmt.Errorf("%w: %w", service.ErrInvalidInput, err)
	}
	st, ok := m.users[userID]
	if !ok {
		return progression.Outcome{}, service.ErrNotFound
	}
	if o, ok := m.applied[submissionID]; ok {
		return o, nil
	}
	score := scoring.Compute(metrics)
	st.TotalXP += score
	st.Version++
	m.users[userID] = st
	o := progression.Outcome{SubmissionID: submissionID, Score: score, XPGranted: score, State: st}
	m.applied[submissionID] = o
	return o, nil
}

func (m *mockDependencies) Enqueue(ctx context.Context, r queue.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.enqueued = append(m.enqueued, r)
	return nil
}

func (m *mockDependencies) Onboard(ctx context.Context, userID string) (progression.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; ok {
		return progression.State{}, service.ErrAlreadyExists
	}
	st := progression.State{UserID: userID, Level: 1, TierProgress: 20, Version: 1}
	m.users[userID] = st
	return st, nil
}

func (m *mockDependencies) Progression(ctx context.Context, userID string) (service.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.users[userID]
	if !ok {
		return service.Snapshot{}, fmt.Errorf("%w: %s", service.ErrNotFound, userID)
	}
	return service.Snapshot{State: st, TierName: "Ajaw", NextTierName: "Nacom", XPToNextLevel: 100, XPRemaining: 100 - st.TotalXP}, nil
}

func (m *mockDependencies) Realign(ctx context.Context, userID string) (progression.State, *progression.TierChange, error) {
	if m.realignErr != nil {
		return progression.State{}, nil, m.realignErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.users[userID]
	if !ok {
		return progression.State{}, nil, service.ErrNotFound
	}
	return st, nil, nil
}

func (m *mockDependencies) TierHistory(ctx context.Context, userID string) ([]progression.TierRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrNotFound, userID)
	}
	return append([]progression.TierRecord{}, m.history[userID]...), nil
}

func (m *mockDependencies) Tiers() []progression.Tier { return progression.DefaultTiers() }

func (m *mockDependencies) BandWidth() int { return progression.DefaultBandWidth }

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newMux(deps api.Dependencies, opts ...api.Option) *http.ServeMux {
	server := api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}}, opts...)
	mux := http.NewServeMux()
	server.Register(mux)
	return mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

const validSubmission = `{"user_id":"alice","submission_id":"s1","metrics":{"base_score":100,"difficulty":"hard","accuracy":1}}`

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		mux := newMux(newMockDependencies())

		Convey("Then the health endpoint serves metrics", func() {
			w := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("And stats are returned as JSON", func() {
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldContainSubstring, "application/json")
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
			So(w.Body.String(), ShouldNotContainSubstring, "rateLimiterClients")
		})

		Convey("And unknown methods are rejected", func() {
			w := do(mux, http.MethodDelete, "/tiers", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestProgressionHandlers(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := newMockDependencies()
		mux := newMux(deps)

		Convey("When onboarding a user", func() {
			w := do(mux, http.MethodPost, "/progressions", `{"user_id":"alice"}`)

			Convey("Then the new record is returned", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				var st progression.State
				So(json.Unmarshal(w.Body.Bytes(), &st), ShouldBeNil)
				So(st.UserID, ShouldEqual, "alice")
				So(st.Level, ShouldEqual, 1)
			})

			Convey("And onboarding again conflicts", func() {
				w := do(mux, http.MethodPost, "/progressions", `{"user_id":"alice"}`)
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(w.Body.String(), ShouldContainSubstring, "already_exists")
			})

			Convey("And the snapshot can be read", func() {
				w := do(mux, http.MethodGet, "/progressions/alice", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var snap service.Snapshot
				So(json.Unmarshal(w.Body.Bytes(), &snap), ShouldBeNil)
				So(snap.State.UserID, ShouldEqual, "alice")
				So(snap.TierName, ShouldEqual, "Ajaw")
			})

			Convey("And realign returns the state", func() {
				w := do(mux, http.MethodPost, "/progressions/alice/realign", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"state"`)
			})

			Convey("And a fresh record has an empty tier history", func() {
				w := do(mux, http.MethodGet, "/progressions/alice/tiers/history", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"history":[]`)
			})

			Convey("And recorded tier changes are listed oldest first", func() {
				deps.mu.Lock()
				deps.history = map[string][]progression.TierRecord{"alice": {
					{UserID: "alice", From: 0, To: 1, Level: 5, LifetimeXP: 600, SubmissionID: "s1"},
					{UserID: "alice", From: 1, To: 0, Corrected: true, Level: 4, LifetimeXP: 450},
				}}
				deps.mu.Unlock()

				w := do(mux, http.MethodGet, "/progressions/alice/tiers/history", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp struct {
					UserID  string                   `json:"user_id"`
					History []progression.TierRecord `json:"history"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.UserID, ShouldEqual, "alice")
				So(resp.History, ShouldHaveLength, 2)
				So(resp.History[0].SubmissionID, ShouldEqual, "s1")
				So(resp.History[1].Corrected, ShouldBeTrue)
			})
		})

		Convey("When reading the tier history of an unknown user", func() {
			w := do(mux, http.MethodGet, "/progressions/nobody/tiers/history", "")

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When the body is malformed", func() {
			w := do(mux, http.MethodPost, "/progressions", `{"user_id":`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the user id is missing", func() {
			w := do(mux, http.MethodPost, "/progressions", `{}`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, "missing user_id")
			})
		})

		Convey("When reading an unknown user", func() {
			w := do(mux, http.MethodGet, "/progressions/nobody", "")

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When realign keeps conflicting", func() {
			deps.realignErr = service.ErrConflict
			w := do(mux, http.MethodPost, "/progressions/alice/realign", "")

			Convey("Then it is a conflict", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
			})
		})
	})
}

func TestSubmissionHandlers(t *testing.T) {
	Convey("Given an API server with an onboarded user", t, func() {
		deps := newMockDependencies()
		mux := newMux(deps)
		So(do(mux, http.MethodPost, "/progressions", `{"user_id":"alice"}`).Code, ShouldEqual, http.StatusCreated)

		Convey("When a submission is applied", func() {
			w := do(mux, http.MethodPost, "/submissions", validSubmission)

			Convey("Then the outcome is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var o progression.Outcome
				So(json.Unmarshal(w.Body.Bytes(), &o), ShouldBeNil)
				So(o.SubmissionID, ShouldEqual, "s1")
				So(o.Score, ShouldEqual, 230)
			})

			Convey("And a replay returns the same outcome", func() {
				again := do(mux, http.MethodPost, "/submissions", validSubmission)
				So(again.Code, ShouldEqual, http.StatusOK)
				So(again.Body.String(), ShouldEqual, w.Body.String())
			})
		})

		Convey("When required fields are missing", func() {
			cases := map[string]string{
				"user_id":       `{"submission_id":"s","metrics":{"difficulty":"easy"}}`,
				"submission_id": `{"user_id":"alice","metrics":{"difficulty":"easy"}}`,
				"metrics":       `{"user_id":"alice","submission_id":"s"}`,
			}

			Convey("Then each is a bad request", func() {
				for field, body := range cases {
					w := do(mux, http.MethodPost, "/submissions", body)
					So(w.Code, ShouldEqual, http.StatusBadRequest)
					So(w.Body.String(), ShouldContainSubstring, "missing "+field)
				}
			})
		})

		Convey("When metrics are invalid", func() {
			w := do(mux, http.MethodPost, "/submissions", `{"user_id":"alice","submission_id":"s","metrics":{"base_score":-5,"difficulty":"easy"}}`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the service reports errors", func() {
			cases := []struct {
				err  error
				code int
			}{
				{service.ErrNotFound, http.StatusNotFound},
				{service.ErrConflict, http.StatusConflict},
				{service.ErrUnavailable, http.StatusServiceUnavailable},
				{errors.New("boom"), http.StatusInternalServerError},
			}

			Convey("Then each maps to its status", func() {
				for _, c := range cases {
					deps.applyErr = c.err
					w := do(mux, http.MethodPost, "/submissions", validSubmission)
					So(w.Code, ShouldEqual, c.code)
				}
			})
		})

		Convey("When a submission is queued", func() {
			w := do(mux, http.MethodPost, "/submissions/async", validSubmission)

			Convey("Then it is accepted", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Body.String(), ShouldContainSubstring, `"accepted"`)
				So(len(deps.enqueued), ShouldEqual, 1)
				So(deps.enqueued[0].SubmissionID, ShouldEqual, "s1")
				So(deps.enqueued[0].Metrics.Difficulty, ShouldEqual, scoring.DifficultyHard)
			})
		})

		Convey("When the queue is full", func() {
			deps.enqueueErr = fmt.Errorf("%w: %w", service.ErrBackpressure, queue.ErrFull)
			w := do(mux, http.MethodPost, "/submissions/async", validSubmission)

			Convey("Then backpressure is reported", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(w.Body.String(), ShouldContainSubstring, "backpressure")
			})
		})
	})
}

func TestTiersHandler(t *testing.T) {
	Convey("Given an API server", t, func() {
		mux := newMux(newMockDependencies())

		Convey("When listing tiers", func() {
			w := do(mux, http.MethodGet, "/tiers", "")

			Convey("Then every tier carries its level band", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var resp struct {
					BandWidth int `json:"band_width"`
					Tiers     []struct {
						Name     string `json:"name"`
						MinLevel int    `json:"min_level"`
						MaxLevel *int   `json:"max_level"`
					} `json:"tiers"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.BandWidth, ShouldEqual, 5)
				So(len(resp.Tiers), ShouldEqual, 5)
				So(resp.Tiers[0].MinLevel, ShouldEqual, 1)
				So(*resp.Tiers[0].MaxLevel, ShouldEqual, 4)
				So(resp.Tiers[1].MinLevel, ShouldEqual, 5)
				So(resp.Tiers[4].MaxLevel, ShouldBeNil)
			})
		})
	})
}
