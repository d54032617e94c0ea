package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/MarkoPoloResearchLab/superset_xblock/internal/httpapi"
)

type renderTarget struct {
	path       string
	handler    gin.HandlerFunc
	outputPath string
}

func renderAsset(handler gin.HandlerFunc, path string) (int, []byte) {
	recorder := httptest.NewRecorder()
	context, _ := gin.CreateTestContext(recorder)
	context.Request = httptest.NewRequest(http.MethodGet, path, nil)
	handler(context)
	return recorder.Code, recorder.Body.Bytes()
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func renderTargets(outputDir string) []renderTarget {
	publicJavaScriptHandlers := httpapi.NewPublicJavaScriptHandlers()
	assets := []struct {
		path    string
		handler gin.HandlerFunc
	}{
		{path: httpapi.EmbedDashboardScriptPath, handler: publicJavaScriptHandlers.EmbedDashboardJS},
		{path: httpapi.XBlockScriptPath, handler: publicJavaScriptHandlers.XBlockJS},
		{path: httpapi.XBlockEditScriptPath, handler: publicJavaScriptHandlers.XBlockEditJS},
		{path: httpapi.StylesheetPath, handler: publicJavaScriptHandlers.StylesheetCSS},
	}
	targets := make([]renderTarget, 0, len(assets))
	for _, asset := range assets {
		targets = append(targets, renderTarget{
			path:       asset.path,
			handler:    asset.handler,
			outputPath: filepath.Join(outputDir, filepath.FromSlash(strings.TrimPrefix(asset.path, "/"))),
		})
	}
	return targets
}

// exportAssets writes the browser assets under outputDir using their served paths.
func exportAssets(outputDir string) ([]string, error) {
	written := make([]string, 0, 4)
	for _, target := range renderTargets(outputDir) {
		status, payload := renderAsset(target.handler, target.path)
		if status < 200 || status >= 300 {
			return written, fmt.Errorf("render %s returned %d", target.path, status)
		}
		payload = bytes.ReplaceAll(payload, []byte("\r\n"), []byte("\n"))
		if err := writeFile(target.outputPath, payload); err != nil {
			return written, fmt.Errorf("write %s: %w", target.outputPath, err)
		}
		written = append(written, target.outputPath)
	}
	return written, nil
}

func main() {
	gin.SetMode(gin.TestMode)

	flags := pflag.NewFlagSet("staticfrontend", pflag.ExitOnError)
	outputDir := flags.String("out", "public", "directory to write static assets into")
	_ = flags.Parse(os.Args[1:])

	written, exportErr := exportAssets(*outputDir)
	if exportErr != nil {
		_, _ = fmt.Fprintln(os.Stderr, exportErr)
		os.Exit(1)
	}
	for _, path := range written {
		fmt.Println("wrote", path)
	}
	fmt.Println("static frontend generated in", *outputDir)
}
