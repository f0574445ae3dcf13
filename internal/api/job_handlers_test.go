package api_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vklg/chatlens/internal/models"
	"github.com/vklg/chatlens/internal/store"
	"github.com/vklg/chatlens/internal/testutil"
)

const sampleExport = `[1/2/24, 3:04:05 PM] Ana: hey
[1/2/24, 3:05:00 PM] Ben: hi
[1/2/24, 3:06:00 PM] Ana: missed you
`

// uploadRequest builds a multipart POST /api/jobs request.
func uploadRequest(t *testing.T, filename string, contents []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(contents)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req, _ := http.NewRequest("POST", "/api/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func defaultFields() map[string]string {
	return map[string]string{
		"self_name":    "Ana",
		"partner_name": "Ben",
		"goal":         "are we ok",
	}
}

func TestCreateJob(t *testing.T) {
	server, app := testutil.SetupTestServer(t)
	router := server.Router()
	cookie := testutil.CookieForUser(t, server, "ana", "password123", false)

	start := time.Now()
	req := uploadRequest(t, "export.txt", []byte(sampleExport), defaultFields())
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("Status = %d (%s), want 202", rr.Code, rr.Body.String())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Upload took %v, must respond well under the proxy timeout", elapsed)
	}

	var resp struct {
		JobID         string `json:"jobId"`
		EstimatedTime int    `json:"estimatedTime"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.JobID == "" || resp.EstimatedTime <= 0 {
		t.Errorf("Response = %+v", resp)
	}

	// The job exists, queued, with no analysis having run.
	job, err := store.New(app.DB).GetJob(resp.JobID)
	if err != nil {
		t.Fatalf("Created job not found: %v", err)
	}
	if job.Status != models.StatusQueued || job.ProgressPercent != 0 {
		t.Errorf("New job = %s/%d, want queued/0", job.Status, job.ProgressPercent)
	}
	if job.Input.SelfName != "Ana" || job.Input.PartnerName != "Ben" {
		t.Errorf("Personalization not stored: %+v", job.Input)
	}
}

func TestCreateJobRejectsBadUploads(t *testing.T) {
	server, app := testutil.SetupTestServer(t)
	router := server.Router()
	cookie := testutil.CookieForUser(t, server, "ana", "password123", false)
	st := store.New(app.DB)

	cases := []struct {
		name string
		req  *http.Request
		code int
	}{
		{"empty file", uploadRequest(t, "export.txt", nil, defaultFields()), http.StatusBadRequest},
		{"wrong type", uploadRequest(t, "export.exe", []byte("MZ"), defaultFields()), http.StatusUnsupportedMediaType},
		{"missing file", uploadRequest(t, "", nil, defaultFields()), http.StatusBadRequest},
		{"missing names", uploadRequest(t, "export.txt", []byte(sampleExport), map[string]string{}), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.AddCookie(cookie)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, tc.req)
			if rr.Code != tc.code {
				t.Errorf("Status = %d, want %d", rr.Code, tc.code)
			}
		})
	}

	// None of the rejected uploads left a job behind.
	user, _ := st.GetUserByUsername("ana")
	jobs, _ := st.ListJobsByOwner(user.ID)
	if len(jobs) != 0 {
		t.Errorf("Rejected uploads created %d job(s)", len(jobs))
	}
}

func TestCreateJobRequiresAuth(t *testing.T) {
	server, _ := testutil.SetupTestServer(t)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, uploadRequest(t, "export.txt", []byte(sampleExport), defaultFields()))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", rr.Code)
	}
}

func TestGetJobOwnership(t *testing.T) {
	server, app := testutil.SetupTestServer(t)
	router := server.Router()
	ownerCookie := testutil.CookieForUser(t, server, "ana", "password123", false)
	strangerCookie := testutil.CookieForUser(t, server, "mallory", "password456", false)

	st := store.New(app.DB)
	owner, _ := st.GetUserByUsername("ana")
	job, err := st.CreateJob(owner.ID, models.InputDescriptor{
		FilePath: "/tmp/x.txt", FileSize: 10, SelfName: "Ana", PartnerName: "Ben",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Owner reads it fine.
	req, _ := http.NewRequest("GET", "/api/jobs/"+job.ID, nil)
	req.AddCookie(ownerCookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Owner read status = %d, want 200", rr.Code)
	}
	var got models.Job
	json.Unmarshal(rr.Body.Bytes(), &got)
	if got.ID != job.ID || got.Status != models.StatusQueued {
		t.Errorf("Job response = %+v", got)
	}

	// A stranger gets 403 with no job fields leaked.
	req, _ = http.NewRequest("GET", "/api/jobs/"+job.ID, nil)
	req.AddCookie(strangerCookie)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("Stranger read status = %d, want 403", rr.Code)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte(job.ID)) {
		t.Error("403 response leaks job data")
	}

	// Unknown ids are 404.
	req, _ = http.NewRequest("GET", "/api/jobs/does-not-exist", nil)
	req.AddCookie(ownerCookie)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Unknown id status = %d, want 404", rr.Code)
	}
}

func TestGetJobHidesFilePath(t *testing.T) {
	server, app := testutil.SetupTestServer(t)
	router := server.Router()
	cookie := testutil.CookieForUser(t, server, "ana", "password123", false)

	st := store.New(app.DB)
	user, _ := st.GetUserByUsername("ana")
	job, _ := st.CreateJob(user.ID, models.InputDescriptor{
		FilePath: "/var/lib/chatlens/uploads/secret.txt", FileSize: 10,
		SelfName: "Ana", PartnerName: "Ben",
	})

	req, _ := http.NewRequest("GET", "/api/jobs/"+job.ID, nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if bytes.Contains(rr.Body.Bytes(), []byte("secret.txt")) {
		t.Error("Job response leaks the server-side file path")
	}
}

func TestListJobs(t *testing.T) {
	server, app := testutil.SetupTestServer(t)
	router := server.Router()
	cookie := testutil.CookieForUser(t, server, "ana", "password123", false)

	st := store.New(app.DB)
	user, _ := st.GetUserByUsername("ana")
	st.CreateJob(user.ID, models.InputDescriptor{FilePath: "/tmp/a", SelfName: "A", PartnerName: "B"})
	st.CreateJob(user.ID, models.InputDescriptor{FilePath: "/tmp/b", SelfName: "A", PartnerName: "B"})

	req, _ := http.NewRequest("GET", "/api/jobs", nil)
	req.AddCookie(cookie)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rr.Code)
	}
	var jobs []models.Job
	if err := json.Unmarshal(rr.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Got %d jobs, want 2", len(jobs))
	}
}
