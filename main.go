package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cryptopatterns-api/aggregator"
	"cryptopatterns-api/feed"
	"cryptopatterns-api/model"
	"cryptopatterns-api/pricesync"
	"cryptopatterns-api/util"
	"cryptopatterns-api/view"
)

var (
	agg    *aggregator.Aggregator
	cache  *pricesync.Cache
	broker *pricesync.Broker
	loop   *pricesync.Loop

	currentUserID string
	uploadDir     string

	lastPriceTick atomic.Int64
)

func init() {

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	output.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
	}
	output.FormatFieldName = func(i interface{}) string {
		return fmt.Sprintf("%s:", i)
	}
}

func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "authentication required"})
			return
		}
		claims, err := model.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "invalid token"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {

	_ = godotenv.Load()

	currentUserID = env("CURRENT_USER_ID", "1")
	uploadDir = env("UPLOAD_DIR", "public/uploads")

	// A fresh database has no one to log in as; seed the configured admin.
	if username := os.Getenv("ADMIN_USERNAME"); username != "" {
		if err := model.EnsureUser(username, os.Getenv("ADMIN_PASSWORD"), "admin", "Administrator"); err != nil {
			log.Err(err).Stack().Send()
		}
	}

	var client feed.Client
	if env("PRICE_FEED", "binance") == "coinbase" {
		client = feed.NewCoinbase()
	} else {
		client = feed.NewBinance(os.Getenv("BINANCE_API_URL"))
	}

	agg = aggregator.New(aggregator.DBPatterns{}, aggregator.DBFavorites{}, client)
	cache = pricesync.NewCache()
	broker = pricesync.NewBroker()
	loop = pricesync.NewLoop(client, cache, broker, pricesync.DefaultTickInterval, markPriceTick, agg, broker)

	// Reseed the tick cache whenever a full refresh publishes, so the loop
	// starts from the merged values and drops undisplayed symbols.
	agg.OnPublish(func(snap aggregator.Snapshot) {
		entries := make(map[string]pricesync.Entry, len(snap.Patterns))
		for _, p := range snap.Patterns {
			if symbol := feed.Symbol(p.Ticker); symbol != "" {
				entries[symbol] = pricesync.Entry{Price: p.Price, PriceChange: p.PriceChange}
			}
		}
		cache.Reset(entries)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go agg.Run(ctx, currentUserID, aggregator.DefaultRefreshInterval)

	loop.Start(ctx)
	defer loop.Stop()

	if env("BINANCE_WS", "false") == "true" {
		go runStream(ctx)
	}

	router := gin.Default()

	router.Use(CORS())

	/*
		public patterns
	*/
	router.GET("/patterns/:userID", getPatternsPage)
	router.GET("/pattern/:userID/:patternID", getPattern)
	router.POST("/refresh/:userID", postRefresh)
	router.PUT("/favorite/:userID/:patternID", putFavorite)
	router.GET("/favorites/:userID", getFavorites)
	router.DELETE("/favorite/:id", deleteFavorite)
	router.GET("/prices/stream", streamPrices)
	router.GET("/status", getStatus)

	/*
		auth
	*/
	router.POST("/auth/login", postLogin)
	router.GET("/auth/me", authRequired(), getMe)

	/*
		admin
	*/
	admin := router.Group("/admin", authRequired())
	admin.PUT("/pattern", savePattern)
	admin.GET("/patterns", getAdminPatterns)
	admin.GET("/pattern/:patternID", getAdminPattern)
	admin.DELETE("/pattern/:patternID", deletePattern)
	admin.POST("/upload", postUpload)
	admin.PUT("/user", saveUser)

	router.Static("/uploads", uploadDir)

	router.Run(env("ADDR", "localhost:9080"))
}

func markPriceTick(t time.Time) {
	lastPriceTick.Store(t.UnixNano())
}

// runStream keeps a websocket mini-ticker feed flowing into the sync loop,
// redialing with the current symbol set whenever the connection drops.
func runStream(ctx context.Context) {
	for ctx.Err() == nil {

		symbols := agg.Symbols()
		if len(symbols) == 0 {
			time.Sleep(5 * time.Second)
			continue
		}

		stream, err := feed.DialStream(os.Getenv("BINANCE_WS_URL"), symbols)
		if err != nil {
			log.Err(err).Stack().Send()
			time.Sleep(15 * time.Second)
			continue
		}

		loop.RunStream(ctx, stream)
	}
}

func getPatternsPage(c *gin.Context) {

	snap := agg.Snapshot()

	userID := c.Param("userID")
	if userID != currentUserID {
		ids, err := model.FavoritePatternIDs(userID)
		if err != nil {
			log.Err(err).Stack().Send()
			c.JSON(http.StatusServiceUnavailable, gin.H{"message": "favorites unavailable", "retryable": true})
			return
		}
		snap.FavoriteIDs = ids
	}

	c.IndentedJSON(http.StatusOK, view.NewPage(snap))
}

func postRefresh(c *gin.Context) {

	snap, err := agg.Refresh(c.Request.Context(), c.Param("userID"))
	if err != nil {
		log.Err(err).Stack().Send()
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "refresh failed", "retryable": true})
		return
	}

	c.IndentedJSON(http.StatusOK, view.NewPage(snap))
}

func getPattern(c *gin.Context) {

	pattern, err := model.FindPatternByID(c.Param("patternID"))
	if err != nil {
		if model.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"message": "pattern not found"})
			return
		}
		log.Err(err).Stack().Send()
		c.Status(http.StatusInternalServerError)
		return
	}

	pattern.Sanitize()

	// Overlay the freshest cached quote, if the sync loop has one.
	if symbol := feed.Symbol(pattern.Ticker); symbol != "" {
		if entry, ok := cache.Get(symbol); ok {
			pattern.Price = entry.Price
			pattern.PriceChange = entry.PriceChange
		}
	}

	favorite := false
	if ids, err := model.FavoritePatternIDs(c.Param("userID")); err == nil {
		for _, id := range ids {
			if id == pattern.ID {
				favorite = true
			}
		}
	}

	c.IndentedJSON(http.StatusOK, view.NewCard(pattern, favorite))
}

func putFavorite(c *gin.Context) {

	favorited, err := agg.ToggleFavorite(c.Request.Context(), c.Param("userID"), c.Param("patternID"))
	if err != nil {
		log.Err(err).Stack().Send()
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "favorite update failed", "retryable": true})
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"favorited":    favorited,
		"favorite_ids": agg.Snapshot().FavoriteIDs,
	})
}

func getFavorites(c *gin.Context) {

	favorites, err := model.GetFavorites(c.Param("userID"))
	if err != nil {
		log.Err(err).Stack().Send()
		c.Status(http.StatusInternalServerError)
		return
	}

	c.IndentedJSON(http.StatusOK, favorites)
}

func deleteFavorite(c *gin.Context) {

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "malformed favorite id"})
		return
	}

	if err := model.RemoveFavoriteByID(uint(id)); err != nil {
		if model.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"message": "favorite not found"})
			return
		}
		log.Err(err).Stack().Send()
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Status(http.StatusOK)
}

// streamPrices pushes symbol-keyed price updates over SSE. Displays
// subscribe to the symbols they render via ?symbols=BTCUSDT,ETHUSDT; no
// parameter subscribes to everything.
func streamPrices(c *gin.Context) {

	var symbols []string
	if q := c.Query("symbols"); q != "" {
		symbols = strings.Split(q, ",")
	}

	ch, unsubscribe := broker.Subscribe(symbols...)
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case update, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("price", update)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func getStatus(c *gin.Context) {

	snap := agg.Snapshot()

	var priceTick string
	if nanos := lastPriceTick.Load(); nanos > 0 {
		priceTick = time.Unix(0, nanos).Format(time.RFC3339)
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"refreshed_at":    snap.RefreshedAt,
		"last_price_tick": priceTick,
		"patterns":        len(snap.Patterns),
	})
}

func postLogin(c *gin.Context) {

	var credentials struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&credentials); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "malformed credentials"})
		return
	}

	user, token, err := model.Authenticate(credentials.Username, credentials.Password)
	if err != nil {
		if errors.Is(err, model.ErrBadCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid username or password"})
			return
		}
		log.Err(err).Stack().Send()
		c.Status(http.StatusInternalServerError)
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func getMe(c *gin.Context) {
	claims := c.MustGet("claims").(*model.Claims)
	c.IndentedJSON(http.StatusOK, gin.H{"user": claims})
}

func savePattern(c *gin.Context) {

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Err(err).Stack().Send()
		c.Status(http.StatusBadRequest)
		return
	}

	var p model.Pattern
	if err := json.Unmarshal(data, &p); err != nil {
		log.Err(err).Stack().Send()
		c.Status(http.StatusBadRequest)
		return
	}

	if err := p.Save(); err != nil {
		log.Err(err).Stack().Send()
		c.Status(http.StatusInternalServerError)
		return
	}

	saved, err := model.FindPatternByID(p.ID)
	if err != nil {
		log.Err(err).Stack().Send()
		c.Status(http.StatusInternalServerError)
		return
	}

	log.Trace().Msg(util.Pretty(saved))

	c.IndentedJSON(http.StatusOK, saved)
}

func saveUser(c *gin.Context) {

	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
		Name     string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "malformed user"})
		return
	}

	user, err := model.SaveUser(model.User{
		Username: body.Username,
		Role:     body.Role,
		Name:     body.Name,
	}, body.Password)
	if err != nil {
		log.Err(err).Stack().Send()
		c.Status(http.StatusInternalServerError)
		return
	}

	c.IndentedJSON(http.StatusOK, user)
}

func getAdminPatterns(c *gin.Context) {

	patterns, err := model.GetPatterns(
		model.Status(c.Query("status")),
		c.DefaultQuery("sort", "updated_at"),
		c.DefaultQuery("order", "desc"),
	)
	if err != nil {
		log.Err(err).Stack().Send()
		c.Status(http.StatusInternalServerError)
		return
	}

	c.IndentedJSON(http.StatusOK, patterns)
}

func getAdminPattern(c *gin.Context) {

	pattern, err := model.FindPatternByID(c.Param("patternID"))
	if err != nil {
		if model.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"message": "pattern not found"})
			return
		}
		log.Err(err).Stack().Send()
		c.Status(http.StatusInternalServerError)
		return
	}

	c.IndentedJSON(http.StatusOK, pattern)
}

func deletePattern(c *gin.Context) {

	if err := model.DeletePattern(c.Param("patternID")); err != nil {
		if model.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"message": "pattern not found"})
			return
		}
		log.Err(err).Stack().Send()
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Status(http.StatusOK)
}

func postUpload(c *gin.Context) {

	file, header, err := c.Request.FormFile("chart")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "no chart file in request"})
		return
	}
	defer file.Close()

	upload, err := model.SaveChartImage(file, header, uploadDir)
	if err != nil {
		if errors.Is(err, model.ErrImageTooLarge) || errors.Is(err, model.ErrNotAnImage) {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		log.Err(err).Stack().Send()
		c.Status(http.StatusInternalServerError)
		return
	}

	c.IndentedJSON(http.StatusOK, gin.H{
		"success":   true,
		"image_url": upload.Path,
		"file":      upload,
	})
}
