package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lexyurk/runvibe/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder

	// サービス
	SessionService     SessionServiceInterface
	ParticipantService ParticipantServiceInterface

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → RateLimit(General)
//
// 運用エンドポイント（/health、/metrics）はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.StatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	sessionHandler := NewSessionHandler(deps.SessionService)
	participantHandler := NewParticipantHandler(deps.ParticipantService)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	// --- 運用エンドポイント ---

	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- APIエンドポイント ---

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/sessions", func(r chi.Router) {
			// POST /api/sessions - セッション作成（作成専用レート制限を追加）
			r.With(deps.RateLimiter.SessionCreateMiddleware()).Post("/", sessionHandler.CreateSession)

			// PUT /api/sessions/sync - クライアント状態のマージ同期
			r.Put("/sync", sessionHandler.SyncSession)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.GetSession)
				r.Put("/", sessionHandler.PatchSession)
			})
		})

		// PUT /api/participants - 参加者への操作適用
		r.Put("/api/participants", participantHandler.UpdateParticipant)
	})

	return r
}
