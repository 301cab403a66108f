package router_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/router"
)

type openAPIDocument struct {
	Paths map[string]map[string]json.RawMessage `json:"paths"`
}

var pathParam = regexp.MustCompile(`:([A-Za-z]+)`)

func documentPath(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(filename), "..", "..", "docs", "api", "grading.json")
}

func loadDocument(t *testing.T) (openAPIDocument, []byte) {
	t.Helper()
	raw, err := os.ReadFile(documentPath(t))
	require.NoError(t, err)
	var doc openAPIDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc, raw
}

func registeredRoutes() map[string]struct{} {
	logger := zerolog.Nop()
	app := fiber.New()
	router.Register(app, config.Config{AppName: "contract"}, router.Dependencies{
		GradingHandler:  handler.NewGradingHandler(handler.GradingHandlerDependencies{}, validator.New(), logger),
		StreamHandler:   handler.NewGradingStreamHandler(nil, logger),
		ActivityHandler: handler.NewActivityHandler(nil, logger),
	})

	routes := map[string]struct{}{}
	for _, route := range app.GetRoutes(true) {
		if route.Method == fiber.MethodHead {
			continue
		}
		path := strings.TrimSuffix(pathParam.ReplaceAllString(route.Path, "{$1}"), "/")
		routes[strings.ToLower(route.Method)+" "+path] = struct{}{}
	}
	return routes
}

func TestGradingRoutesMatchOpenAPIDocument(t *testing.T) {
	doc, _ := loadDocument(t)
	routes := registeredRoutes()

	documented := map[string]struct{}{}
	for path, methods := range doc.Paths {
		for method := range methods {
			key := method + " " + path
			documented[key] = struct{}{}
			_, ok := routes[key]
			require.Truef(t, ok, "documented route %s is not registered", key)
		}
	}

	for key := range routes {
		_, ok := documented[key]
		require.Truef(t, ok, "registered route %s is missing from docs/api/grading.json", key)
	}
}

func TestSessionSummaryMatchesDocumentedSchema(t *testing.T) {
	_, raw := loadDocument(t)

	compiler := jsonschema.NewCompiler()
	require.NoError(t, compiler.AddResource("mem://grading.json", bytes.NewReader(raw)))
	schema, err := compiler.Compile("mem://grading.json#/components/schemas/SessionSummary")
	require.NoError(t, err)

	total := 10
	completedAt := time.Date(2024, time.March, 2, 10, 0, 0, 0, time.UTC)
	summary := dto.NewSessionSummary(models.GradingSession{
		ID:           "session-1",
		SubmissionID: "sub-1",
		Version:      2,
		Status:       models.SessionStatusCompleted,
		Mode:         models.GradingModeAuto,
		StartedAt:    completedAt.Add(-time.Hour),
		CompletedAt:  &completedAt,
		TotalScore:   &total,
	}, 3, 3, true)

	encoded, err := json.Marshal(summary)
	require.NoError(t, err)
	var document interface{}
	require.NoError(t, json.Unmarshal(encoded, &document))
	require.NoError(t, schema.Validate(document))

	broken := document.(map[string]interface{})
	broken["status"] = "archived"
	require.Error(t, schema.Validate(broken))
}
