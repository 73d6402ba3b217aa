package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/support-agent/agent/contract"
	storex "github.com/tanpawarit/support-agent/agent/store"
)

const MaxMessageLength = 4000

type Config struct {
	Addr            string        `envconfig:"ADDR" default:":8000"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`
	ReadTimeout     time.Duration `split_words:"true" default:"15s"`
	WriteTimeout    time.Duration `split_words:"true" default:"120s"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	ChatRateLimit   int           `split_words:"true" default:"20"`
	ChatRateWindow  time.Duration `split_words:"true" default:"1m"`
}

// Store is the record store surface used by the plain CRUD endpoints.
type Store interface {
	ListCustomers(ctx context.Context) ([]storex.Customer, error)
	GetCustomer(ctx context.Context, id string) (storex.Customer, bool, error)
	FindCustomer(ctx context.Context, field storex.SearchField, value string) (storex.Customer, bool, error)
	UpdateCustomerContact(ctx context.Context, id string, upd storex.ContactUpdate) (storex.UpdateResult, error)
	GetCustomerWithOrders(ctx context.Context, field storex.LookupField, value string) (storex.CustomerOrders, bool, error)
	ListOrders(ctx context.Context, status *storex.OrderStatus) ([]storex.Order, error)
	GetOrder(ctx context.Context, id string) (storex.Order, bool, error)
	CancelOrder(ctx context.Context, id string) (storex.CancelResult, error)
}

var _ Store = (*storex.Store)(nil)

type Deps struct {
	Store Store
	Chat  contractx.ChatService
	// ChatLimiter guards POST /api/chat. Nil disables rate limiting.
	ChatLimiter gin.HandlerFunc
	// Probe checks the LLM provider for /api/health?deep=1. Nil skips it.
	Probe func(ctx context.Context) error
}

func NewRouter(cfg Config, deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), AccessLog(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	h := &handlers{store: deps.Store, chat: deps.Chat, probe: deps.Probe}

	g := r.Group("/api")
	g.GET("/health", h.health)

	chat := []gin.HandlerFunc{h.chatTurn}
	if deps.ChatLimiter != nil {
		chat = append([]gin.HandlerFunc{deps.ChatLimiter}, chat...)
	}
	g.POST("/chat", chat...)

	g.GET("/customers", h.listCustomers)
	g.POST("/customers/search", h.searchCustomer)
	g.GET("/customers/:id", h.getCustomer)
	g.PATCH("/customers/:id", h.updateCustomer)
	g.GET("/customers/:id/orders", h.customerOrders)

	g.GET("/orders", h.listOrders)
	g.GET("/orders/:id", h.getOrder)
	g.PATCH("/orders/:id/cancel", h.cancelOrder)

	return r
}

// Serve runs the HTTP server until ctx is cancelled, then drains in-flight
// requests for up to cfg.ShutdownTimeout.
func Serve(ctx context.Context, cfg Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	log.Info().Msg("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}
