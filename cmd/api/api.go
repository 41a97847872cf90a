package api

import (
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/zispr/zispr-server/cmd/utils"
	"github.com/zispr/zispr-server/db"
	"github.com/zispr/zispr-server/service/assist"
	"github.com/zispr/zispr-server/service/drafts"
	"github.com/zispr/zispr-server/service/engagement"
	"github.com/zispr/zispr-server/service/messages"
	"github.com/zispr/zispr-server/service/notifications"
	"github.com/zispr/zispr-server/service/posts"
	"github.com/zispr/zispr-server/service/sharecard"
	"github.com/zispr/zispr-server/service/subscription"
	"github.com/zispr/zispr-server/service/user"
	"github.com/zispr/zispr-server/service/ws"
)

type APIServer struct {
	address    string
	store      db.Store
	idem       db.IdemStore
	composer   *assist.Composer
	renderer   *sharecard.Renderer
	batchLimit int
}

func NewAPIServer(address string, store db.Store, idem db.IdemStore, composer *assist.Composer, renderer *sharecard.Renderer, batchLimit int) *APIServer {
	return &APIServer{
		address:    address,
		store:      store,
		idem:       idem,
		composer:   composer,
		renderer:   renderer,
		batchLimit: batchLimit,
	}
}

func (s *APIServer) Run() error {
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	hub := ws.NewHub()
	hub.RegisterRoutes(router)

	notifier := notifications.NewCreator(s.store, hub)

	userHandler := user.NewHandler(s.store)
	userHandler.RegisterRoutes(subrouter)

	postHandler := posts.NewHandler(s.store, notifier)
	postHandler.RegisterRoutes(subrouter)

	engagementHandler := engagement.NewHandler(s.store, notifier, s.batchLimit)
	engagementHandler.RegisterRoutes(subrouter)

	draftHandler := drafts.NewHandler(s.store)
	draftHandler.RegisterRoutes(subrouter)

	messageHandler := messages.NewHandler(s.store, s.idem, hub)
	messageHandler.RegisterRoutes(subrouter)

	notificationHandler := notifications.NewHandler(s.store, notifier)
	notificationHandler.RegisterRoutes(subrouter)

	cardHandler := sharecard.NewHandler(s.store, s.renderer)
	cardHandler.RegisterRoutes(subrouter)

	subscriptionHandler := subscription.NewHandler(s.store)
	subscriptionHandler.RegisterRoutes(subrouter)

	assistHandler := assist.NewHandler(s.composer)
	assistHandler.RegisterRoutes(subrouter)

	fileServer := http.FileServer(http.Dir(utils.ImagePath))
	router.PathPrefix("/images/").Handler(http.StripPrefix("/images/", fileServer))

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	utils.Logger.Infow("server listening", "address", s.address)
	return http.ListenAndServe(s.address, handlers.CombinedLoggingHandler(os.Stdout, cors(router)))
}
