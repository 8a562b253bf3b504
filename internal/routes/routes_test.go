package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"invoice-reconciliation-engine/internal/logger"
	"invoice-reconciliation-engine/internal/models"
	"invoice-reconciliation-engine/internal/services/exception"
	"invoice-reconciliation-engine/internal/services/matching"
	service "invoice-reconciliation-engine/internal/services/reconciliation"
	"invoice-reconciliation-engine/internal/services/semantic"
	"invoice-reconciliation-engine/internal/services/task"
	"invoice-reconciliation-engine/internal/testutil"
)

type api struct {
	t      *testing.T
	router *gin.Engine
	svc    *service.Service
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	cfg := service.Config{
		Matching:   matching.DefaultConfig(),
		Semantic:   semantic.DefaultConfig(),
		Exceptions: exception.DefaultConfig(),
	}
	svc := service.NewService(db, nil, task.NewController(), cfg, logger.Discard())
	r := gin.New()
	RegisterRoutes(r, svc)
	return &api{t: t, router: r, svc: svc}
}

func (a *api) do(method, path string, body interface{}) (int, map[string]interface{}) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			a.t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, out
}

func (a *api) createBatch() string {
	a.t.Helper()
	code, body := a.do(http.MethodPost, "/api/batches", map[string]string{"name": "March"})
	if code != http.StatusCreated {
		a.t.Fatalf("create batch = %d %v", code, body)
	}
	return body["batch"].(map[string]interface{})["id"].(string)
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	code, body := a.do(http.MethodGet, "/api/health", nil)
	if code != http.StatusOK || body["status"] != "ok" || body["ai"] != false {
		t.Errorf("health = %d %v", code, body)
	}
}

func TestBatchLifecycle(t *testing.T) {
	a := newAPI(t)
	id := a.createBatch()
	base := "/api/batches/" + id

	code, body := a.do(http.MethodPost, base+"/transactions", map[string]interface{}{
		"transactions": []map[string]interface{}{
			{"payer_name": "Acme", "amount": "100", "transaction_date": "2024-03-01", "payer_account": "6222020200112233445"},
			{"payer_name": "Stranger", "amount": "42"},
		},
	})
	if code != http.StatusCreated || body["count"] != float64(2) {
		t.Fatalf("add transactions = %d %v", code, body)
	}
	code, body = a.do(http.MethodPost, base+"/invoices", map[string]interface{}{
		"invoices": []map[string]interface{}{
			{"seller_name": "ACME", "amount": "100", "invoice_date": "2024-02-28"},
		},
	})
	if code != http.StatusCreated {
		t.Fatalf("add invoices = %d %v", code, body)
	}

	code, body = a.do(http.MethodPost, base+"/run", nil)
	if code != http.StatusAccepted {
		t.Fatalf("run = %d %v", code, body)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, progress := a.do(http.MethodGet, base+"/progress", nil)
		if progress["stage"] == models.StageUnbalanced {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run did not finish, last progress %v", progress)
		}
		time.Sleep(10 * time.Millisecond)
	}
	for a.svc.Running(uuid.MustParse(id)) {
		time.Sleep(5 * time.Millisecond)
	}

	code, body = a.do(http.MethodGet, base, nil)
	batch := body["batch"].(map[string]interface{})
	if code != http.StatusOK || batch["status"] != models.StageUnbalanced || batch["matched_count"] != float64(1) {
		t.Errorf("batch = %d %v", code, body)
	}

	_, body = a.do(http.MethodGet, base+"/matches", nil)
	matches := body["data"].([]interface{})
	if len(matches) != 1 {
		t.Fatalf("matches = %v", body)
	}
	matchID := matches[0].(map[string]interface{})["id"].(string)
	code, body = a.do(http.MethodPost, "/api/matches/"+matchID+"/confirm", map[string]string{"performed_by": "dave"})
	if code != http.StatusOK || body["match"].(map[string]interface{})["confirmed"] != true {
		t.Errorf("confirm = %d %v", code, body)
	}

	_, body = a.do(http.MethodGet, base+"/exceptions?status=pending", nil)
	exceptions := body["data"].([]interface{})
	if len(exceptions) != 1 {
		t.Fatalf("exceptions = %v", body)
	}
	excID := exceptions[0].(map[string]interface{})["id"].(string)
	resolve := map[string]string{"status": "ignored", "resolution": "refund"}
	if code, body = a.do(http.MethodPost, "/api/exceptions/"+excID+"/resolve", resolve); code != http.StatusOK {
		t.Errorf("resolve = %d %v", code, body)
	}
	if code, _ = a.do(http.MethodPost, "/api/exceptions/"+excID+"/resolve", resolve); code != http.StatusConflict {
		t.Errorf("second resolve = %d", code)
	}

	_, body = a.do(http.MethodGet, base+"/proxy-candidates", nil)
	candidates := body["data"].([]interface{})
	if len(candidates) != 1 || candidates[0].(map[string]interface{})["payer_name"] != "Stranger" {
		t.Errorf("proxy candidates = %v", body)
	}

	code, body = a.do(http.MethodGet, base+"/stats", nil)
	if code != http.StatusOK || body["bank"].(map[string]interface{})["pending_count"] != float64(1) {
		t.Errorf("stats = %d %v", code, body)
	}
}

func TestRequestErrors(t *testing.T) {
	a := newAPI(t)
	id := a.createBatch()

	tests := []struct {
		method, path string
		body         interface{}
		want         int
	}{
		{http.MethodGet, "/api/batches/not-a-uuid", nil, http.StatusBadRequest},
		{http.MethodGet, "/api/batches/" + uuid.NewString(), nil, http.StatusNotFound},
		{http.MethodPost, "/api/batches/" + uuid.NewString() + "/run", nil, http.StatusNotFound},
		{http.MethodPost, "/api/batches/" + id + "/transactions", map[string]interface{}{
			"transactions": []map[string]interface{}{{"payer_name": "A", "amount": "-5"}},
		}, http.StatusBadRequest},
		{http.MethodPost, "/api/batches/" + id + "/invoices", map[string]interface{}{"wrong": true}, http.StatusBadRequest},
		{http.MethodGet, "/api/batches/" + id + "/exceptions?status=open", nil, http.StatusBadRequest},
		{http.MethodPost, "/api/matches/" + uuid.NewString() + "/confirm", nil, http.StatusNotFound},
		{http.MethodPost, "/api/exceptions/" + uuid.NewString() + "/resolve", map[string]string{"status": "done"}, http.StatusBadRequest},
		{http.MethodPost, "/api/mappings", map[string]string{"person_name": "A"}, http.StatusBadRequest},
		{http.MethodDelete, "/api/mappings/" + uuid.NewString(), nil, http.StatusNotFound},
		{http.MethodGet, "/api/mappings/suggestions?batch_id=x", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if code, body := a.do(tt.method, tt.path, tt.body); code != tt.want {
			t.Errorf("%s %s = %d %v, want %d", tt.method, tt.path, code, body, tt.want)
		}
	}
}

func TestStopWithoutRun(t *testing.T) {
	a := newAPI(t)
	id := a.createBatch()
	code, body := a.do(http.MethodPost, "/api/batches/"+id+"/stop", nil)
	if code != http.StatusOK || body["running"] != false {
		t.Errorf("stop = %d %v", code, body)
	}
	code, body = a.do(http.MethodGet, "/api/batches/"+id+"/progress", nil)
	if code != http.StatusOK || body["stage"] != models.StageIdle {
		t.Errorf("progress = %d %v", code, body)
	}
}

func TestMappingEndpoints(t *testing.T) {
	a := newAPI(t)
	ctx := context.Background()

	in := map[string]string{"person_name": "王五", "company_name": "甲公司", "remark": "boss"}
	code, body := a.do(http.MethodPost, "/api/mappings", in)
	if code != http.StatusCreated || body["created"] != true {
		t.Fatalf("create = %d %v", code, body)
	}
	id := body["mapping"].(map[string]interface{})["id"].(string)
	if code, body = a.do(http.MethodPost, "/api/mappings", in); code != http.StatusOK || body["created"] != false {
		t.Errorf("repeat create = %d %v", code, body)
	}

	code, body = a.do(http.MethodPost, "/api/mappings/batch", map[string]interface{}{
		"mappings": []map[string]string{
			{"person_name": "赵六", "company_name": "乙公司"},
			{"person_name": "", "company_name": "乙公司"},
		},
	})
	if code != http.StatusOK || body["success"] != float64(1) || body["failed"] != float64(1) {
		t.Errorf("batch create = %d %v", code, body)
	}

	_, body = a.do(http.MethodGet, "/api/mappings?q="+url.QueryEscape("王"), nil)
	if list := body["data"].([]interface{}); len(list) != 1 {
		t.Errorf("search = %v", body)
	}

	code, body = a.do(http.MethodPut, "/api/mappings/"+id, map[string]string{"company_name": "丙公司"})
	if code != http.StatusOK || body["mapping"].(map[string]interface{})["company_name"] != "丙公司" {
		t.Errorf("update = %d %v", code, body)
	}
	if company, ok, _ := a.svc.Mappings().Lookup(ctx, "王五"); !ok || company != "丙公司" {
		t.Errorf("lookup after update = %q %v", company, ok)
	}

	if code, body = a.do(http.MethodPost, "/api/mappings/dedup", nil); code != http.StatusOK || body["removed"] != float64(0) {
		t.Errorf("dedup = %d %v", code, body)
	}
	if code, _ = a.do(http.MethodDelete, "/api/mappings/"+id, nil); code != http.StatusOK {
		t.Errorf("delete = %d", code)
	}
	_, body = a.do(http.MethodGet, "/api/mappings", nil)
	if list := body["data"].([]interface{}); len(list) != 1 {
		t.Errorf("list after delete = %v", body)
	}
}
