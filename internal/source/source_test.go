package source

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"CommissionEngine/internal/logsink"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func writeRegistry(t *testing.T, header string, values ...string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &[]any{"parcela", header}); err != nil {
		t.Fatalf("header: %v", err)
	}
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &[]any{1, v}); err != nil {
			t.Fatalf("row %d: %v", i, err)
		}
	}
	path := filepath.Join(t.TempDir(), "faturas_migracao.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	return path
}

func TestLoadMigrations(t *testing.T) {
	t.Parallel()

	path := writeRegistry(t, "numero_contrato", "PA100", " 200 ", "", "PA100")
	reg, err := LoadMigrations(path, logsink.Discard(1024))
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("Len = %d, want 2", reg.Len())
	}
	for _, p := range []string{"PA100", "200", " 200"} {
		if !reg.Contains(p) {
			t.Errorf("Contains(%q) = false", p)
		}
	}
	if reg.Contains("300") {
		t.Errorf("Contains(300) = true")
	}
}

func TestLoadMigrationsXLS(t *testing.T) {
	t.Parallel()

	// Row 2 of the fixture is empty and row 4 has no proposal.
	reg, err := LoadMigrations(filepath.Join("testdata", "migrations.xls"), logsink.Discard(1024))
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if reg.Len() != 2 || !reg.Contains("P-100") || !reg.Contains("P-200") {
		t.Fatalf("registry = %d proposals, want P-100 and P-200", reg.Len())
	}
	if reg.Contains("NOVA SAUDE") {
		t.Fatalf("registry picked up a value outside %s", ProposalColumn)
	}
}

func TestLoadMigrationsMissingFile(t *testing.T) {
	t.Parallel()

	sink := logsink.Discard(4096)
	reg, err := LoadMigrations(filepath.Join(t.TempDir(), "absent.xlsx"), sink)
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if reg.Len() != 0 || reg.Contains("anything") {
		t.Fatalf("registry should be empty")
	}
	if !strings.Contains(sink.Render(4096), "[WARN]") {
		t.Fatalf("missing file should leave a warning in the run log")
	}
}

func TestLoadMigrationsMissingColumn(t *testing.T) {
	t.Parallel()

	path := writeRegistry(t, "contrato", "PA100")
	if _, err := LoadMigrations(path, logsink.Discard(1024)); err == nil {
		t.Fatalf("expected an error for a registry without %s", ProposalColumn)
	}
}

func TestTextConversions(t *testing.T) {
	t.Parallel()

	var doc struct {
		A text `json:"a"`
		B text `json:"b"`
		C text `json:"c"`
		D text `json:"d"`
		E text `json:"e"`
	}
	if err := json.Unmarshal([]byte(`{"a": 1, "b": "2025-10-03T10:00:00", "c": 149.9, "d": "S", "e": null}`), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.A.Int() != 1 {
		t.Errorf("Int = %d", doc.A.Int())
	}
	if got := doc.B.Date(); !got.Equal(time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Date = %s", got)
	}
	if !doc.C.Decimal().Equal(decimal.RequireFromString("149.9")) {
		t.Errorf("Decimal = %s", doc.C.Decimal())
	}
	if !doc.D.Bool() || doc.E.Bool() || doc.E.String() != "" {
		t.Errorf("Bool/null handling wrong: %q %q", doc.D, doc.E)
	}
}

// fakeIndex serves just enough of the search API for the extractor.
type fakeIndex struct {
	mu      sync.Mutex
	sizes   map[string]string
	scrolls int
	cleared int
}

func hitsJSON(total int, scrollID string, docs ...map[string]any) map[string]any {
	hits := make([]map[string]any, 0, len(docs))
	for i, d := range docs {
		id, _ := d["_id"].(string)
		if id == "" {
			id = "doc" + string(rune('a'+i))
		}
		hits = append(hits, map[string]any{"_id": id, "_source": d})
	}
	out := map[string]any{"hits": map[string]any{"total": map[string]any{"value": total}, "hits": hits}}
	if scrollID != "" {
		out["_scroll_id"] = scrollID
	}
	return out
}

func (f *fakeIndex) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	reply := func(v any) { _ = json.NewEncoder(w).Encode(v) }

	switch {
	case r.URL.Path == "/":
		reply(map[string]any{"version": map[string]any{"number": "8.17.1"}, "tagline": "You Know, for Search"})
	case strings.HasSuffix(r.URL.Path, "/_count"):
		switch {
		case strings.HasPrefix(r.URL.Path, "/"+IndexBilling):
			reply(map[string]any{"count": 3})
		default:
			reply(map[string]any{"count": 2})
		}
	case strings.HasPrefix(r.URL.Path, "/_search/scroll") && r.Method == http.MethodDelete:
		f.cleared++
		reply(map[string]any{"succeeded": true})
	case strings.HasPrefix(r.URL.Path, "/_search/scroll"):
		f.scrolls++
		reply(hitsJSON(3, "s1", map[string]any{"contratonumero": "C2", "corretoracodigo": 20, "corretorcpf": "222", "corretornome": "Bia"}))
	case strings.HasPrefix(r.URL.Path, "/"+IndexBilling+"/_search"):
		f.sizes[IndexBilling] = r.URL.Query().Get("size")
		reply(hitsJSON(3, "",
			map[string]any{"contratonumero": "C1", "contratonumeroproposta": "P1", "cobrancaciclo": 1, "cobrancadatapagamento": "2025-10-02", "cobrancavalor": "300.50", "contratostatusdescricao": "ATIVO"},
			map[string]any{"contratonumero": "C2", "contratonumeroproposta": "P2", "cobrancaciclo": "2", "cobrancadatapagamento": "2025-10-03T00:00:00", "cobrancavalor": 120},
		))
	case strings.HasPrefix(r.URL.Path, "/"+IndexContracts+"/_search"):
		f.sizes[IndexContracts] = r.URL.Query().Get("size")
		reply(hitsJSON(3, "s1",
			map[string]any{"contratonumero": "C1", "corretoracodigo": "10", "corretorcpf": "111", "corretornome": "Ana", "supervisorcpf": "999", "supervisornome": "Sup"},
			map[string]any{"contratonumero": "C1", "corretoracodigo": "10", "corretorcpf": "111", "corretornome": "Ana"},
		))
	case strings.HasPrefix(r.URL.Path, "/"+IndexBeneficiaries+"/_search"):
		reply(hitsJSON(2, "",
			map[string]any{"_id": "B1", "contratonumero": "C1", "contratonumeroproposta": "P1", "beneficiariocpf": "12345678901", "beneficiarionome": "joao", "beneficiariodatadenascimento": "1990-05-20", "beneficiariotipodescricao": "Titular", "operadoranomefantasia": "AMIL", "entidadesigla": "ABRAE", "planonome": "PLANO A", "contratodatainiciovigencia": "2025-09-01", "beneficiarioinddesligado": false},
			map[string]any{"_id": "B2", "contratonumero": "C2", "contratonumeroproposta": "P2", "beneficiarioinddesligado": "S"},
		))
	case strings.HasPrefix(r.URL.Path, "/"+IndexBrokers+"/_search"):
		reply(hitsJSON(1, "s2", map[string]any{"corretorcpf": "111", "corretornome": "Ana", "corretoremail": "ana@x.com", "corretordddcelular": "21", "corretornumcelular": "99999"}))
	default:
		http.Error(w, `{"error":"unexpected `+r.URL.Path+`"}`, http.StatusNotFound)
	}
}

func newFakeElastic(t *testing.T) (*Elastic, *fakeIndex) {
	t.Helper()
	fake := &fakeIndex{sizes: make(map[string]string)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return NewElastic(client, zerolog.Nop()), fake
}

func TestExtract(t *testing.T) {
	t.Parallel()

	es, fake := newFakeElastic(t)
	sink := logsink.Discard(1 << 16)
	start := time.Date(2025, 9, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 10, 2, 0, 0, 0, 0, time.UTC)

	batch, err := es.Extract(t.Context(), start, end, sink)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if len(batch.Billings) != 2 {
		t.Fatalf("billings = %d, want 2", len(batch.Billings))
	}
	b := batch.Billings[1]
	if b.Parcel != 2 || !b.Amount.Equal(decimal.NewFromInt(120)) || !b.PaymentDate.Equal(time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("billing[1] = %+v", b)
	}
	if fake.sizes[IndexBilling] != "3" {
		t.Fatalf("billing search size = %q, want the counted total", fake.sizes[IndexBilling])
	}

	if len(batch.Contracts) != 3 || batch.Contracts[2].Number != "C2" || batch.Contracts[2].DistributorCode != "20" {
		t.Fatalf("contracts = %+v", batch.Contracts)
	}
	if fake.scrolls != 1 || fake.cleared != 1 {
		t.Fatalf("scrolls = %d cleared = %d, want 1 and 1", fake.scrolls, fake.cleared)
	}

	if len(batch.Beneficiaries) != 2 {
		t.Fatalf("beneficiaries = %d, want 2", len(batch.Beneficiaries))
	}
	ben := batch.Beneficiaries[0]
	if ben.BeneficiaryID != "B1" || ben.Cancelled || ben.BirthDate.Year() != 1990 || ben.Entity != "ABRAE" {
		t.Fatalf("beneficiary[0] = %+v", ben)
	}
	if !batch.Beneficiaries[1].Cancelled {
		t.Fatalf("beneficiary[1] should be cancelled")
	}
}

func TestExtractAppliesResultCeiling(t *testing.T) {
	t.Parallel()

	es, fake := newFakeElastic(t)
	es.maxResults = 1
	sink := logsink.Discard(1 << 16)

	if _, err := es.Extract(t.Context(), time.Now(), time.Now(), sink); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if fake.sizes[IndexBilling] != "1" {
		t.Fatalf("billing search size = %q, want the ceiling", fake.sizes[IndexBilling])
	}
	if !strings.Contains(sink.Render(1<<16), "result ceiling of 1 documents") {
		t.Fatalf("ceiling warning missing from run log")
	}
}

func TestBrokers(t *testing.T) {
	t.Parallel()

	es, _ := newFakeElastic(t)
	contacts, err := es.Brokers(t.Context(), logsink.Discard(1024))
	if err != nil {
		t.Fatalf("Brokers: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("contacts = %d, want 1", len(contacts))
	}
	c := contacts[0]
	if c.CPF != "00000000111" || c.Phone != "2199999" || c.Email != "ana@x.com" {
		t.Fatalf("contact = %+v", c)
	}
}
