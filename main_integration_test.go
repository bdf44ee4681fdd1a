package main_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"greendrake/tutormatch/internal/auth"
	"greendrake/tutormatch/internal/models"
)

const (
	testAppBinary         = "./tutormatch_test_app"
	testAppPort           = "8089"
	testServiceApiPortApi = "8091"
	testServiceApiPortBg  = "8092"
	testJwtSecret         = "integration-test-secret"
	testAppURL            = "http://localhost:" + testAppPort
	testServiceApiURL     = "http://localhost:" + testServiceApiPortApi
	startupTimeout        = 15 * time.Second
	pingEndpoint          = testAppURL + "/v1/ping"
)

// integrationReady is false when MongoDB is not configured; every test skips then.
var integrationReady bool

// TestMain builds the binary and runs an API process and a background worker
// against a throwaway database.
func TestMain(m *testing.M) {
	_ = godotenv.Load()
	mongoURI := os.Getenv("MONGO_URI")
	if mongoURI == "" {
		log.Println("Integration Test Setup: MONGO_URI not set, skipping integration tests.")
		os.Exit(m.Run())
	}

	defer func() { _ = os.Remove(testAppBinary) }()

	buildCmd := exec.Command("go", "build", "-o", testAppBinary, ".")
	if out, err := buildCmd.CombinedOutput(); err != nil {
		log.Printf("Failed to build application: %v\nOutput:\n%s", err, string(out))
		os.Exit(1)
	}

	dbName := "tutormatch_it_" + uuid.NewString()[:8]
	defer dropDatabase(mongoURI, dbName)

	env := append(os.Environ(),
		"MONGO_DB_NAME="+dbName,
		"JWT_SECRET="+testJwtSecret,
		"GIN_MODE=release",
		"MOCK_SERVICES=true",
		"RATE_LIMIT_BUCKET_SIZE=100",
		"RATE_LIMIT_REFILL_RATE=100",
	)

	apiCmd := exec.Command(testAppBinary, "-m", "api")
	apiCmd.Env = append(env, "API_PORT="+testAppPort, "SERVICE_API_PORT="+testServiceApiPortApi)
	apiCmd.Stdout, apiCmd.Stderr = os.Stdout, os.Stderr

	bgCmd := exec.Command(testAppBinary, "-m", "bg")
	bgCmd.Env = append(env, "SERVICE_API_PORT="+testServiceApiPortBg)
	bgCmd.Stdout, bgCmd.Stderr = os.Stdout, os.Stderr

	if err := apiCmd.Start(); err != nil {
		log.Printf("Failed to start API process: %v", err)
		os.Exit(1)
	}
	defer stopProcess(apiCmd)
	if err := bgCmd.Start(); err != nil {
		log.Printf("Failed to start Background Worker process: %v", err)
		return
	}
	defer stopProcess(bgCmd)

	if !waitForPing() {
		log.Printf("Application failed to start within %v", startupTimeout)
		return
	}
	// The worker has no health endpoint; give it a moment to connect.
	time.Sleep(2 * time.Second)

	integrationReady = true
	exitCode := m.Run()
	log.Printf("Integration Test Teardown: Tests finished with exit code %d.", exitCode)
}

func stopProcess(cmd *exec.Cmd) {
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
		return
	}
	_, _ = cmd.Process.Wait()
}

func waitForPing() bool {
	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(pingEndpoint)
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK && string(body) == "pong" {
				return true
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return false
}

func dropDatabase(uri, dbName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		log.Printf("Integration Test Teardown: cannot connect to drop %s: %v", dbName, err)
		return
	}
	defer func() { _ = client.Disconnect(ctx) }()
	if err := client.Database(dbName).Drop(ctx); err != nil {
		log.Printf("Integration Test Teardown: failed to drop %s: %v", dbName, err)
	}
}

func requireIntegration(t *testing.T) {
	t.Helper()
	if !integrationReady {
		t.Skip("integration environment not available")
	}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func callApi(t *testing.T, actor models.Actor, method string, arg interface{}) apiResponse {
	t.Helper()
	args, err := json.Marshal([]interface{}{arg})
	require.NoError(t, err)
	body, _ := json.Marshal(map[string]interface{}{"method": method, "arguments": json.RawMessage(args)})

	token, err := auth.GenerateJWT(actor, testJwtSecret, time.Hour)
	require.NoError(t, err)
	req, _ := http.NewRequest("POST", testAppURL+"/v1/api", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func mustCall[T any](t *testing.T, actor models.Actor, method string, arg interface{}) T {
	t.Helper()
	resp := callApi(t, actor, method, arg)
	require.True(t, resp.Success, "%s failed: %s", method, resp.Error)
	var out T
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	return out
}

func TestIntegration_JsonApiPing(t *testing.T) {
	requireIntegration(t)

	resp, err := http.Post(testAppURL+"/v1/api", "application/json", bytes.NewReader([]byte(`{"method": "ping"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, map[string]interface{}{"success": true, "data": "pong"}, body)
}

func TestIntegration_AcceptFlowAndNotifications(t *testing.T) {
	requireIntegration(t)

	suffix := uuid.NewString()[:8]
	student := models.Actor{UserID: "student-" + suffix, Role: models.RoleStudent}
	tutor1 := models.Actor{UserID: "tutor1-" + suffix, Role: models.RoleTutor}
	tutor2 := models.Actor{UserID: "tutor2-" + suffix, Role: models.RoleTutor}

	post := mustCall[models.Post](t, student, "createPost", map[string]interface{}{
		"title": "GCSE physics", "subject": "physics", "description": "Exam preparation", "publish": true,
	})
	a1 := mustCall[models.Application](t, tutor1, "submitApplication", map[string]string{"post_id": post.ID, "pitch": "Former examiner", "idempotency_key": "k-" + suffix})
	replay := mustCall[models.Application](t, tutor1, "submitApplication", map[string]string{"post_id": post.ID, "pitch": "Former examiner", "idempotency_key": "k-" + suffix})
	assert.Equal(t, a1.ID, replay.ID)
	a2 := mustCall[models.Application](t, tutor2, "submitApplication", map[string]string{"post_id": post.ID, "pitch": "Physics graduate"})

	mustCall[models.Application](t, student, "shortlistApplication", a1.ID)
	accepted := mustCall[models.Application](t, student, "acceptApplication", a1.ID)
	assert.Equal(t, models.ApplicationStatusAccepted, accepted.Status)

	resp := callApi(t, student, "shortlistApplication", a2.ID)
	assert.False(t, resp.Success)
	assert.Equal(t, "conflict", resp.Code)

	// Notifications travel through asynq to the worker, then to the Redis outbox.
	var tutor1Events, tutor2Events []models.EventType
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		tutor1Events = recentEvents(t, tutor1.UserID)
		tutor2Events = recentEvents(t, tutor2.UserID)
		if slices.Contains(tutor1Events, models.EventApplicationAccepted) && slices.Contains(tutor2Events, models.EventApplicationRejected) {
			break
		}
		time.Sleep(250 * time.Millisecond)
	}
	assert.Contains(t, tutor1Events, models.EventApplicationShortlisted)
	assert.Contains(t, tutor1Events, models.EventApplicationAccepted)
	assert.Contains(t, tutor2Events, models.EventApplicationRejected)
}

func recentEvents(t *testing.T, recipientID string) []models.EventType {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("%s/service/notifications/%s", testServiceApiURL, recipientID))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data []models.Notification `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	events := make([]models.EventType, 0, len(body.Data))
	for _, n := range body.Data {
		events = append(events, n.EventType)
	}
	return events
}
