package nellebot

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	pprofPrefix             = "/debug"
	apiPrefix               = "/api"
	apiPathLogin            = "/login"
	apiPathLogout           = "/logout"
	apiHealthCheck          = "/healthz"
	apiPathMetrics          = "/metrics"
	apiPathLoggedIn         = "/logged_in"
	apiPathQueues           = "/queues"
	apiPathJobs             = "/jobs"
	apiPathRunJob           = "/jobs/:name/run"
	apiPathCancelJob        = "/jobs/:name/cancel"
	apiPathQuit             = "/quit"
	apiPathRegisterCommands = "/discord/register_commands"
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"

	apiQuitTimeout = 30 * time.Second
)

var structValidator = validator.New()

func init() {
	structValidator.SetTagName("binding")
}

// apiBackend is what the admin API can see and do
type apiBackend interface {
	Connected() bool
	QueueStats() []queueStats
	Jobs() []JobStatus
	TriggerJob(name string, dryRun bool) (JobKey, error)
	CancelJob(name string) error
	RegisterCommands(ctx context.Context) ([]*discordgo.ApplicationCommand, error)

	// Stop signals every running instance to shut down
	Stop(ctx context.Context) bool

	VerifyAdminCredentials(ctx context.Context, username string, password string) (bool, error)
}

// API is the admin HTTP server: health, metrics, queue depths and job
// control, behind a session login.
type API struct {
	config       *APIConfig
	backend      apiBackend
	httpServer   *http.Server
	listener     net.Listener
	engine       *gin.Engine
	store        CookieStore
	loginLimiter *rate.Limiter
	metrics      *Metrics
	logger       *slog.Logger
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

func newAPI(backend apiBackend, config *APIConfig, metrics *Metrics, logger *slog.Logger) (*API, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(loggerNameKey, "api")

	var secretKey []byte
	switch sk := config.Secret; {
	case sk == "":
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	default:
		secretKey = derive64ByteKey(sk)
	}
	store := NewCookieStore(secretKey)
	sameSite := http.SameSiteStrictMode
	if config.Development {
		sameSite = http.SameSiteNoneMode
	}
	store.Options(
		sessions.Options{
			Path:     "/",
			HttpOnly: true,
			Secure:   true,
			MaxAge:   int(config.SessionMaxAge.Seconds()),
			SameSite: sameSite,
		},
	)

	var tlsCfg *tls.Config
	if config.SSL.Cert != "" || config.SSL.Key != "" {
		var err error
		tlsCfg, err = tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
	}

	r := gin.New()
	api := &API{
		config:       config,
		backend:      backend,
		engine:       r,
		store:        store,
		loginLimiter: rate.NewLimiter(rate.Limit(1), 1),
		metrics:      metrics,
		logger:       logger,
	}
	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		if config.Development {
			corsConfig.AllowOrigins = []string{"*"}
		} else {
			corsConfig.AllowOrigins = []string{"https://" + config.Listen}
		}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		metricMiddleware(metrics),
		cors.New(corsConfig),
		sessions.Sessions(sessionVarName, store),
	)

	r.GET(apiHealthCheck, api.healthCheck)
	r.GET(apiPathMetrics, gin.WrapH(metrics.Handler()))
	r.POST(apiPathLogin, api.loginHandler)
	r.POST(apiPathLogout, api.logoutHandler)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(logger))
	protected.GET(apiPathLoggedIn, api.loggedIn)
	protected.GET(apiPathQueues, api.getQueues)
	protected.GET(apiPathJobs, api.getJobs)
	protected.POST(apiPathRunJob, api.runJob)
	protected.POST(apiPathCancelJob, api.cancelJob)
	protected.POST(apiPathRegisterCommands, api.registerCommands)
	protected.POST(apiPathQuit, api.botQuit)

	return api, nil
}

// Serve listens on the configured address, and serves until the
// server is shut down
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "api listening", "address", a.listener.Addr().String())
	return a.httpServer.Serve(a.listener)
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool         `json:"discord_gateway_connected"`
	Queues                  []queueStats `json:"queues"`
}

type loggedInResponse struct {
	Username string `json:"username"`
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

type userLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type runJobQuery struct {
	DryRun bool `form:"dry_run"`
}

type jobTriggeredResponse struct {
	Key    JobKey `json:"key"`
	DryRun bool   `json:"dry_run"`
}

type registeredCommandsResponse struct {
	Registered int `json:"registered"`
}

func (a *API) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK,
		healthCheckResponse{
			DiscordGatewayConnected: a.backend.Connected(),
			Queues:                  a.backend.QueueStats(),
		},
	)
}

func (a *API) loginHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	if !a.loginLimiter.Allow() {
		logger.Warn("login rate limited")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, httpError{Error: "too many requests"})
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	valid, err := a.backend.VerifyAdminCredentials(c.Request.Context(), login.Username, login.Password)
	if err != nil {
		logger.Error("error verifying credentials", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	if !valid {
		logger.Warn("invalid login attempt", "username", login.Username)
		c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}

	session := sessions.Default(c)
	session.Set(sessionVarField, login.Username)
	if err = session.Save(); err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	logger.Info("saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

func (a *API) logoutHandler(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		ginContextLogger(c).Error("error saving session", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

func (a *API) loggedIn(c *gin.Context) {
	username, _ := c.Get(sessionVarField)
	name, _ := username.(string)
	c.JSON(http.StatusOK, loggedInResponse{Username: name})
}

func (a *API) getQueues(c *gin.Context) {
	c.JSON(http.StatusOK, a.backend.QueueStats())
}

func (a *API) getJobs(c *gin.Context) {
	c.JSON(http.StatusOK, a.backend.Jobs())
}

func (a *API) runJob(c *gin.Context) {
	var q runJobQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	key, err := a.backend.TriggerJob(c.Param("name"), q.DryRun)
	switch {
	case errors.Is(err, ErrUnknownJob):
		c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: err.Error()})
	case errors.Is(err, ErrJobAlreadyRunning):
		c.AbortWithStatusJSON(http.StatusConflict, httpError{Error: err.Error()})
	case err != nil:
		ginContextLogger(c).Error("error triggering job", tint.Err(err))
		ginReplyError(c, err.Error())
	default:
		c.JSON(http.StatusAccepted, jobTriggeredResponse{Key: key, DryRun: q.DryRun})
	}
}

func (a *API) cancelJob(c *gin.Context) {
	name := c.Param("name")
	if err := a.backend.CancelJob(name); err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: err.Error()})
		return
	}
	ginReplyMessage(c, "Canceled job: "+name)
}

func (a *API) registerCommands(c *gin.Context) {
	commands, err := a.backend.RegisterCommands(c.Request.Context())
	if err != nil {
		ginContextLogger(c).Error("error registering commands", tint.Err(err))
		ginReplyError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, registeredCommandsResponse{Registered: len(commands)})
}

func (a *API) botQuit(c *gin.Context) {
	logger := ginContextLogger(c)
	logger.Warn("sending stop signal")
	ctx, cancel := context.WithTimeout(context.Background(), apiQuitTimeout)
	defer cancel()

	doneCh := make(chan struct{}, 1)
	go func() {
		a.backend.Stop(ctx)
		doneCh <- struct{}{}
	}()
	select {
	case <-doneCh:
		ginReplyMessage(c, "quitting")
	case <-ctx.Done():
		logger.Warn("timeout sending stop signal")
		c.JSON(http.StatusGatewayTimeout, httpError{Error: "timeout sending stop signal"})
	}
}

// authMiddleware rejects requests without a logged-in session
func authMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		username, ok := session.Get(sessionVarField).(string)
		if !ok || username == "" {
			logger.Warn("username not found in session", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		c.Set(sessionVarField, username)
		c.Next()
	}
}

// requestIDMiddleware assigns a random ID to each request, and echoes
// it in the X-Request-ID response header
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request logger stored in the gin context,
// creating it with the request's details when there isn't one.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}
	requestLogger := slog.Default().With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID, _ := c.Get(xRequestIDHeader)
		requestLogger := logger.With(
			slog.Group(
				"request",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"remote_ip", c.RemoteIP(),
				"user_agent", c.Request.UserAgent(),
			),
			slog.Any(xRequestIDHeader, requestID),
		)
		c.Set(string(loggerContextKey), requestLogger)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

// metricMiddleware counts requests by method, matched route and status
func metricMiddleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.apiRequest(c.Request.Method, route, c.Writer.Status())
	}
}

func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
