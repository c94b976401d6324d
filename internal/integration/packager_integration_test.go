package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ocp-packager/internal/archive"
	"github.com/oshokin/ocp-packager/internal/manifest"
	"github.com/oshokin/ocp-packager/internal/service/packager"
)

const (
	nightlyName = "v2024.11-45-g1111111_2024-12-01"
	platoTag    = "0.9.44"
	koreaderTag = "v2024.11"
	nmTag       = "v0.5.4"
)

// upstreamDate is announced as Last-Modified for every download.
var upstreamDate = time.Date(2024, time.November, 28, 12, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // Test fixture.

// writeTree materializes files under dir and returns dir.
func writeTree(t *testing.T, dir string, files map[string]string) string {
	t.Helper()

	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	return dir
}

// archives builds the KFMon package under kfmonDir and returns the upstream archives by URL path.
func archives(t *testing.T, root, kfmonDir string) map[string][]byte {
	t.Helper()

	ctx := context.Background()
	sources := filepath.Join(root, "sources")

	koboRoot := filepath.Join(sources, "KoboRoot.tgz")
	require.NoError(t, archive.TarGz(ctx,
		writeTree(t, filepath.Join(sources, "koboroot"), map[string]string{"usr/local/kfmon/bin/kfmon": "kfmon"}),
		koboRoot))

	koboRootBytes, err := os.ReadFile(koboRoot)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(kfmonDir, 0o755))
	require.NoError(t, archive.Zip(ctx, writeTree(t, filepath.Join(sources, "kfmon"), map[string]string{
		".adds/kfmon/config/kfmon.ini":     "kfmon",
		".adds/kfmon/config/kfmon-log.ini": "log",
		".adds/kfmon/config/koreader.ini":  "koreader",
		".adds/kfmon/config/plato.ini":     "plato",
		".kobo/KoboRoot.tgz":               string(koboRootBytes),
		"icons/plato.png":                  "png",
		"kfmon.png":                        "png",
		"koreader.png":                     "png",
	}), filepath.Join(kfmonDir, "KFMon-v1.4.6.zip")))

	build := func(name string, files map[string]string, pack func(context.Context, string, string) error) []byte {
		path := filepath.Join(sources, name)
		require.NoError(t, pack(ctx, writeTree(t, filepath.Join(sources, name+".d"), files), path))

		data, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		return data
	}

	return map[string][]byte{
		"/nm/" + nmTag + "/KoboRoot.tgz": build("nm.tgz",
			map[string]string{"usr/local/Kobo/imageformats/libnm.so": "nm"}, archive.TarGz),
		"/dl/plato-" + platoTag + ".zip": build("plato.zip",
			map[string]string{"plato": "binary"}, archive.Zip),
		"/dl/koreader-kobo-" + koreaderTag + ".zip": build("koreader.zip",
			map[string]string{"koreader/reader.lua": "release", "koreader.png": "relic"}, archive.Zip),
		"/nightly/" + nightlyName + "/koreader-kobo-" + nightlyName + ".zip": build("nightly.zip",
			map[string]string{"koreader/reader.lua": "nightly", "koreader.png": "relic"}, archive.Zip),
	}
}

// startUpstreams serves the forge API, the downloads and the nightly listing.
func startUpstreams(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()

	var server *httptest.Server

	release := func(tag string, assets ...string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			body := fmt.Sprintf(`{"tag_name":%q,"assets":[`, tag)
			for i, asset := range assets {
				if i > 0 {
					body += ","
				}

				body += fmt.Sprintf(`{"name":%q,"browser_download_url":"%s/dl/%s"}`, asset, server.URL, asset)
			}

			_, _ = w.Write([]byte(body + "]}"))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/pgaskin/NickelMenu/releases/latest", release(nmTag))
	mux.HandleFunc("/repos/baskerville/plato/releases/latest", release(platoTag, "plato-"+platoTag+".zip"))
	mux.HandleFunc("/repos/koreader/koreader/releases/latest",
		release(koreaderTag, "koreader-kindle-"+koreaderTag+".zip", "koreader-kobo-"+koreaderTag+".zip"))
	mux.HandleFunc("/repos/koreader/koreader/tags", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `[{"name":%q}]`, koreaderTag)
	})
	mux.HandleFunc("/nightly/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `<html><body><a href="../">../</a><a href="%s/">%s/</a></body></html>`, nightlyName, nightlyName)
	})
	mux.HandleFunc("/nightly/"+nightlyName+"/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `<html><body><a href="koreader-kobo-%s.zip">kobo</a></body></html>`, nightlyName)
	})

	for path, data := range files {
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Last-Modified", upstreamDate.Format(http.TimeFormat))
			_, _ = w.Write(data)
		})
	}

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

// setup prepares a complete packaging environment and returns the config path and directories.
func setup(t *testing.T) (cfgPath, workDir, outDir string) {
	t.Helper()

	root := t.TempDir()
	kfmonDir := filepath.Join(root, "Kobo")
	nmDir := writeTree(t, filepath.Join(root, "nm"), map[string]string{
		"kfmon": "kfmon shard", "koreader": "koreader shard", "plato": "plato shard",
	})

	server := startUpstreams(t, archives(t, root, kfmonDir))

	workDir = filepath.Join(root, "work")
	outDir = filepath.Join(root, "out")
	cfgPath = filepath.Join(root, "ocp-packager.yaml")

	settings := fmt.Sprintf(`kfmon_dir: %s
nm_config_dir: %s
work_dir: %s
api_base_url: %s
token_env: OCP_PACKAGER_TEST_UNSET_TOKEN
nightly_index_url: %s/nightly/
timeout: 30s
upstreams:
  nickelmenu:
    url: %s/nm/{version}/KoboRoot.tgz
`, kfmonDir, nmDir, workDir, server.URL, server.URL, server.URL)

	require.NoError(t, os.WriteFile(cfgPath, []byte(settings), 0o600))

	return cfgPath, workDir, outDir
}

// TestPackager_Run_Release builds and publishes every bundle from the latest releases.
func TestPackager_Run_Release(t *testing.T) {
	cfgPath, workDir, outDir := setup(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := packager.Run(ctx, &packager.Options{
		ConfigPath: cfgPath,
		OutputDir:  outDir,
	})
	require.NoError(t, err)

	bundles := []string{
		"OCP-Plato-0.9.44.zip",
		"OCP-KOReader-v2024.11.zip",
		"OCP-Plato-0.9.44_KOReader-v2024.11.zip",
		"OCP-KFMon-1.4.6.zip",
	}

	catalog, err := manifest.Load(filepath.Join(outDir, manifest.Filename))
	require.NoError(t, err)
	require.Equal(t, "v2024.11", catalog.Versions["koreader"])
	require.Equal(t, "v0.5.4", catalog.Versions["nickelmenu"])
	require.Len(t, catalog.Bundles, len(bundles))

	for _, name := range bundles {
		require.FileExists(t, filepath.Join(outDir, name))
		require.FileExists(t, filepath.Join(workDir, name))
		require.Contains(t, catalog.Bundles, name)
	}

	// Release bundles carry the upstream date.
	info, err := os.Stat(filepath.Join(outDir, "OCP-Plato-0.9.44.zip"))
	require.NoError(t, err)
	require.True(t, upstreamDate.Equal(info.ModTime()), info.ModTime())

	// Scratch files and the lock are gone.
	for _, name := range []string{"Plato.zip", "KOReader.zip", "NickelMenu", "ocp-packager.lock"} {
		_, statErr := os.Stat(filepath.Join(workDir, name))
		require.ErrorIs(t, statErr, os.ErrNotExist, name)
	}
}

// TestPackager_Run_Nightly bundles the latest KOReader nightly and keeps scratch files.
func TestPackager_Run_Nightly(t *testing.T) {
	cfgPath, workDir, _ := setup(t)

	err := packager.Run(context.Background(), &packager.Options{
		ConfigPath:  cfgPath,
		Nightly:     true,
		KeepScratch: true,
	})
	require.NoError(t, err)

	bundle := filepath.Join(workDir, "OCP-KOReader-v2024.11-45.zip")
	require.FileExists(t, bundle)
	require.FileExists(t, filepath.Join(workDir, "KOReader.zip"))
	require.FileExists(t, filepath.Join(workDir, manifest.Filename))

	out := t.TempDir()
	require.NoError(t, archive.Unpack(context.Background(), bundle, out))

	reader, err := os.ReadFile(filepath.Join(out, ".adds/koreader/reader.lua"))
	require.NoError(t, err)
	require.Equal(t, "nightly", string(reader))
	require.NoFileExists(t, filepath.Join(out, ".adds/koreader.png"))
	require.FileExists(t, filepath.Join(out, ".adds/nm/koreader"))
}

// TestPackager_Resolve prints the upstream recap without touching the work directory.
func TestPackager_Resolve(t *testing.T) {
	cfgPath, workDir, _ := setup(t)

	var out recorder

	err := packager.Resolve(context.Background(), &packager.Options{
		ConfigPath: cfgPath,
		Nightly:    true,
		Out:        &out,
	})
	require.NoError(t, err)
	require.Contains(t, string(out), "Plato 0.9.44")
	require.Contains(t, string(out), "KOReader Nightly v2024.11-45")
	require.NoDirExists(t, workDir)
}

// recorder collects written bytes.
type recorder []byte

func (r *recorder) Write(p []byte) (int, error) {
	*r = append(*r, p...)

	return len(p), nil
}
