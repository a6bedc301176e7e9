package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vib3/photomesh/internal/colmap"
	"github.com/vib3/photomesh/internal/config"
	"github.com/vib3/photomesh/internal/db"
	"github.com/vib3/photomesh/internal/fsutil"
	"github.com/vib3/photomesh/internal/httputil"
	"github.com/vib3/photomesh/internal/mesh"
	"github.com/vib3/photomesh/internal/monitoring"
	"github.com/vib3/photomesh/internal/pipeline"
	"github.com/vib3/photomesh/internal/progress"
	"github.com/vib3/photomesh/internal/testutil"
	"github.com/vib3/photomesh/internal/timeutil"
)

const testOutputDir = "/data/out"

const fusedCloud = `ply
format ascii 1.0
element vertex 4
property float x
property float y
property float z
end_header
0 0 0
1 0 1
-1 0.5 2
0.5 1 -1
`

const tetraOBJ = `v 0 0 0
v 1 0 0
v 0 1 0
v 0 0 1
f 1 3 2
f 1 2 4
f 1 4 3
f 2 3 4
`

func init() {
	monitoring.SetLogger(nil)
}

type testEnv struct {
	server *Server
	mux    *http.ServeMux
	fs     *fsutil.MemoryFileSystem
	runner *colmap.RecordingRunner
	broker *progress.Broker
	db     *db.DB
	cfg    *config.PanelConfig
}

func argAfter(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func tetrahedron() *mesh.Mesh {
	return &mesh.Mesh{
		Vertices:  [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Triangles: [][3]uint32{{0, 2, 1}, {0, 1, 3}, {0, 3, 2}, {1, 2, 3}},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fs := fsutil.NewMemoryFileSystem()
	var meshed bytes.Buffer
	require.NoError(t, mesh.WritePLY(&meshed, tetrahedron()))

	runner := &colmap.RecordingRunner{}
	runner.OnRun = func(inv colmap.Invocation) error {
		out := argAfter(inv.Args, "--output_path")
		switch inv.Subcommand {
		case colmap.SubMapper:
			return fs.MkdirAll(out+"/0", 0755)
		case colmap.SubStereoFusion:
			return fs.WriteFile(out, []byte(fusedCloud), 0644)
		case colmap.SubPoissonMesher, colmap.SubDelaunayMesher:
			return fs.WriteFile(out, meshed.Bytes(), 0644)
		}
		return nil
	}

	cfg := config.DefaultPanelConfig()
	models, workspace := "/srv/models", "/tmp/ws"
	cfg.ModelsDir = &models
	cfg.WorkspaceRoot = &workspace

	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	clock.SetAutoStep(250 * time.Millisecond)

	database := db.NewTestDB(t)
	broker := progress.NewBroker()
	t.Cleanup(broker.Close)

	p := &pipeline.Pipeline{
		Runner:   runner,
		FS:       fs,
		Clock:    clock,
		Reporter: pipeline.MultiReporter{broker, StageRecorder{DB: database}},
		Options:  pipeline.OptionsFromConfig(cfg),
	}
	s := NewServer(cfg, p, broker, database)
	return &testEnv{
		server: s,
		mux:    s.ServeMux(),
		fs:     fs,
		runner: runner,
		broker: broker,
		db:     database,
		cfg:    cfg,
	}
}

// do serves req, forwarding the cookies of a previous response.
func (e *testEnv) do(req *http.Request, prev *httptest.ResponseRecorder) *httptest.ResponseRecorder {
	if prev != nil {
		for _, c := range prev.Result().Cookies() {
			req.AddCookie(c)
		}
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(target string, prev *httptest.ResponseRecorder) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, target, nil), prev)
}

func reconstructRequest(t *testing.T, outputDir string, files ...testutil.FormFile) *http.Request {
	t.Helper()
	if files == nil {
		files = []testutil.FormFile{
			{Field: "images", Filename: "IMG_0001.jpg", Content: testutil.JPEGBytes},
			{Field: "images", Filename: "IMG_0002.png", Content: testutil.PNGBytes},
		}
	}
	return testutil.NewMultipartRequest(t, http.MethodPost, "/api/reconstructions",
		map[string]string{"project_name": "Statue", "output_dir": outputDir}, files...)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) httputil.ErrorBody {
	t.Helper()
	var body httputil.ErrorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestIndexPage(t *testing.T) {
	e := newTestEnv(t)

	w := e.get("/", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	body := w.Body.String()
	assert.Contains(t, body, "<title>My 3D Project</title>")
	assert.Contains(t, body, "Run 3D Reconstruction")
	assert.Contains(t, body, NoModelMessage)
	assert.Contains(t, body, `value="#0099FF"`)
	assert.NotEmpty(t, w.Result().Cookies())

	w = e.get("/?project=Fountain", nil)
	assert.Contains(t, w.Body.String(), "<h1 id=\"title\">Fountain</h1>")

	w = e.get("/nope", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}

func TestViewerScript(t *testing.T) {
	e := newTestEnv(t)
	w := e.get("/static/viewer.js", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "application/javascript", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "STLLoader")
}

func TestReconstructionSuccess(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(reconstructRequest(t, testOutputDir), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ReconstructionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "3D Reconstruction Completed!", resp.Message)
	assert.Equal(t, "Statue", resp.ProjectName)
	assert.Equal(t, 4, resp.Stats.Triangles)
	assert.Len(t, resp.Stages, len(pipeline.Stages))
	assert.Equal(t, "/api/models/glb", resp.Downloads["glb"])
	assert.Len(t, e.runner.Calls(), 7)

	t.Run("downloads", func(t *testing.T) {
		for _, ext := range []string{"obj", "ply", "glb"} {
			dl := e.get("/api/models/"+ext, w)
			require.Equal(t, http.StatusOK, dl.Code, ext)
			assert.Equal(t, `attachment; filename="3D_Model.`+ext+`"`, dl.Header().Get("Content-Disposition"))
			assert.Equal(t, "application/octet-stream", dl.Header().Get("Content-Type"))
			assert.NotZero(t, dl.Body.Len())
		}
		page := e.get("/", w)
		assert.Contains(t, page.Body.String(), "/api/reconstructions/"+resp.RunID+"/chart")
	})

	t.Run("viewer model", func(t *testing.T) {
		v := e.get("/api/viewer/model.stl", w)
		require.Equal(t, http.StatusOK, v.Code)
		m, err := mesh.ReadSTL(v.Body)
		require.NoError(t, err)
		assert.Len(t, m.Triangles, 4)
	})

	t.Run("run record", func(t *testing.T) {
		r := e.get("/api/reconstructions/"+resp.RunID, nil)
		require.Equal(t, http.StatusOK, r.Code)
		var run db.Run
		require.NoError(t, json.NewDecoder(r.Body).Decode(&run))
		assert.Equal(t, db.RunStatusSucceeded, run.Status)
		assert.Equal(t, 2, run.ImageCount)
		assert.Equal(t, 4, run.Triangles)
		assert.Equal(t, testOutputDir+"/dense/fused.ply", run.FusedPath)
		require.Len(t, run.Stages, len(pipeline.Stages))
		assert.Equal(t, "feature_extraction", run.Stages[0].Name)
		assert.Equal(t, "finished", run.Stages[7].Status)
	})

	t.Run("history", func(t *testing.T) {
		r := e.get("/api/reconstructions?limit=5", nil)
		require.Equal(t, http.StatusOK, r.Code)
		var runs []db.Run
		require.NoError(t, json.NewDecoder(r.Body).Decode(&runs))
		require.Len(t, runs, 1)
		assert.Equal(t, resp.RunID, runs[0].ID)
	})

	t.Run("chart", func(t *testing.T) {
		r := e.get("/api/reconstructions/"+resp.RunID+"/chart", nil)
		require.Equal(t, http.StatusOK, r.Code)
		assert.Contains(t, r.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, r.Body.String(), "sparse_reconstruction")
	})

	t.Run("preview", func(t *testing.T) {
		r := e.get("/api/reconstructions/"+resp.RunID+"/preview.png", nil)
		require.Equal(t, http.StatusOK, r.Code, r.Body.String())
		assert.Equal(t, "image/png", r.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(r.Body.Bytes(), []byte("\x89PNG")))
	})

	t.Run("events replay", func(t *testing.T) {
		recent := e.broker.Recent(resp.RunID)
		require.NotEmpty(t, recent)
		assert.Equal(t, progress.StateDone, recent[len(recent)-1].State)
	})
}

func TestReconstructionMissingInput(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"no images", testutil.NewMultipartRequest(t, http.MethodPost, "/api/reconstructions",
			map[string]string{"output_dir": testOutputDir})},
		{"no output dir", reconstructRequest(t, "  ")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(tt.req, nil)
			testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
			body := decodeError(t, w)
			assert.Equal(t, pipeline.MissingInputMessage, body.Error)
			assert.Equal(t, pipeline.KindInput, body.Kind)
		})
	}
	assert.Empty(t, e.runner.Calls())
}

func TestReconstructionRejectsBadImages(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		file testutil.FormFile
	}{
		{"wrong extension", testutil.FormFile{Field: "images", Filename: "notes.txt", Content: testutil.JPEGBytes}},
		{"wrong content", testutil.FormFile{Field: "images", Filename: "fake.jpg", Content: []byte("hello world")}},
		{"gif", testutil.FormFile{Field: "images", Filename: "anim.png", Content: []byte("GIF89a......")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(reconstructRequest(t, testOutputDir, tt.file), nil)
			testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
		})
	}
	assert.Empty(t, e.runner.Calls())
}

func TestReconstructionOutputDirRestricted(t *testing.T) {
	e := newTestEnv(t)
	root := t.TempDir()
	e.cfg.AllowedOutputRoots = []string{root}

	w := e.do(reconstructRequest(t, filepath.Join(filepath.Dir(root), "elsewhere")), nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	assert.Contains(t, decodeError(t, w).Error, "Invalid output directory")

	w = e.do(reconstructRequest(t, filepath.Join(root, "statue")), nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
}

func TestGeneratedModelsPerSession(t *testing.T) {
	e := newTestEnv(t)

	first := e.do(reconstructRequest(t, testOutputDir), nil)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	// The next run meshes a single triangle into the shared models folder.
	var single bytes.Buffer
	require.NoError(t, mesh.WritePLY(&single, &mesh.Mesh{
		Vertices:  [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Triangles: [][3]uint32{{0, 1, 2}},
	}))
	onRun := e.runner.OnRun
	e.runner.OnRun = func(inv colmap.Invocation) error {
		if inv.Subcommand == colmap.SubPoissonMesher {
			return e.fs.WriteFile(argAfter(inv.Args, "--output_path"), single.Bytes(), 0644)
		}
		return onRun(inv)
	}
	second := e.do(reconstructRequest(t, "/data/other"), nil)
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	triangles := func(prev *httptest.ResponseRecorder) int {
		t.Helper()
		dl := e.get("/api/models/obj", prev)
		require.Equal(t, http.StatusOK, dl.Code, dl.Body.String())
		m, err := mesh.ReadOBJ(dl.Body)
		require.NoError(t, err)
		return len(m.Triangles)
	}
	assert.Equal(t, 4, triangles(first))
	assert.Equal(t, 1, triangles(second))

	// A failed run elsewhere clears the models folder but not earlier results.
	e.runner.FailOn = colmap.SubMapper
	third := e.do(reconstructRequest(t, "/data/third"), nil)
	testutil.AssertStatusCode(t, third.Code, http.StatusInternalServerError)
	assert.Equal(t, 4, triangles(first))

	v := e.get("/api/viewer/model.stl", first)
	require.Equal(t, http.StatusOK, v.Code)
	m, err := mesh.ReadSTL(v.Body)
	require.NoError(t, err)
	assert.Len(t, m.Triangles, 4)
}

func TestReconstructionOutlivesClient(t *testing.T) {
	e := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	onRun := e.runner.OnRun
	e.runner.OnRun = func(inv colmap.Invocation) error {
		if inv.Subcommand == colmap.SubFeatureExtractor {
			cancel()
		}
		return onRun(inv)
	}

	w := e.do(reconstructRequest(t, testOutputDir).WithContext(ctx), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, e.runner.Calls(), 7)

	var resp ReconstructionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	run, err := e.db.GetRun(resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusSucceeded, run.Status)
}

func TestReconstructionTooLarge(t *testing.T) {
	e := newTestEnv(t)
	one := 1
	e.cfg.MaxUploadMB = &one

	big := append(append([]byte{}, testutil.JPEGBytes...), make([]byte, 2<<20)...)
	w := e.do(reconstructRequest(t, testOutputDir,
		testutil.FormFile{Field: "images", Filename: "big.jpg", Content: big}), nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusRequestEntityTooLarge)
}

func TestReconstructionToolFailure(t *testing.T) {
	e := newTestEnv(t)
	e.runner.FailOn = colmap.SubImageUndistorter

	w := e.do(reconstructRequest(t, testOutputDir), nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusInternalServerError)
	body := decodeError(t, w)
	assert.Equal(t, pipeline.KindTool, body.Kind)
	assert.True(t, strings.HasPrefix(body.Error, "COLMAP Error: "), body.Error)
	assert.Equal(t, []string{"feature_extractor", "exhaustive_matcher", "mapper", "image_undistorter"}, e.runner.Subcommands())

	runs, err := e.db.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run, err := e.db.GetRun(runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusFailed, run.Status)
	assert.Equal(t, pipeline.KindTool, run.ErrorKind)
	require.Len(t, run.Stages, 4)
	assert.Equal(t, "failed", run.Stages[3].Status)

	// A failed run leaves nothing to download.
	dl := e.get("/api/models/obj", w)
	testutil.AssertStatusCode(t, dl.Code, http.StatusNotFound)

	p := e.get("/api/reconstructions/"+run.ID+"/preview.png", nil)
	testutil.AssertStatusCode(t, p.Code, http.StatusNotFound)
}

func TestReconstructionBusy(t *testing.T) {
	e := newTestEnv(t)
	started := make(chan struct{})
	release := make(chan struct{})
	inner := e.runner.OnRun
	e.runner.OnRun = func(inv colmap.Invocation) error {
		if inv.Subcommand == colmap.SubFeatureExtractor {
			close(started)
			<-release
		}
		return inner(inv)
	}

	done := make(chan int, 1)
	go func() {
		done <- e.do(reconstructRequest(t, testOutputDir), nil).Code
	}()
	<-started

	w := e.do(reconstructRequest(t, testOutputDir), nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusConflict)
	assert.Equal(t, pipeline.KindBusy, decodeError(t, w).Kind)

	cfgResp := e.get("/api/config", nil)
	assert.Contains(t, cfgResp.Body.String(), `"busy":true`)

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestReconstructionNotFound(t *testing.T) {
	e := newTestEnv(t)
	for _, target := range []string{
		"/api/reconstructions/missing",
		"/api/reconstructions/missing/chart",
		"/api/reconstructions/missing/preview.png",
	} {
		w := e.get(target, nil)
		testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
	}

	w := e.get("/api/reconstructions?limit=zero", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestShowConfig(t *testing.T) {
	e := newTestEnv(t)
	w := e.get("/api/config", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "poisson", body["mesher"])
	assert.Equal(t, float64(512), body["max_upload_mb"])
	assert.Equal(t, false, body["busy"])
	assert.Contains(t, body, "version")
}

func TestMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		method, target string
	}{
		{http.MethodDelete, "/api/reconstructions"},
		{http.MethodPost, "/api/reconstructions/abc"},
		{http.MethodPost, "/api/models/obj"},
		{http.MethodGet, "/api/convert"},
		{http.MethodPost, "/api/viewer/model.stl"},
		{http.MethodPost, "/api/viewer/params"},
		{http.MethodPost, "/api/config"},
		{http.MethodPost, "/api/events"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			w := e.do(httptest.NewRequest(tt.method, tt.target, nil), nil)
			testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/config?x=1", nil))

	out := buf.String()
	assert.Contains(t, out, "/api/config?x=1")
	assert.Contains(t, out, statusCodeColor(http.StatusTeapot))
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"500"+colorReset, statusCodeColor(500))
	assert.Equal(t, "100", statusCodeColor(100))
}
