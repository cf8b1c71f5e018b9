// Package source extracts the per-period billing, contract and beneficiary reports from the
// search index, and reads the migrations registry spreadsheet.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"CommissionEngine/internal/config"
	"CommissionEngine/internal/logsink"
	"CommissionEngine/internal/model"
	"CommissionEngine/internal/pipeline"
	"CommissionEngine/internal/refdata"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog"
)

const (
	IndexBilling       = "qv-relatorio-listagem-cobranca"
	IndexContracts     = "qv-relatorio-contrato"
	IndexBeneficiaries = "qv-relatorio-beneficiario"
	IndexBrokers       = "qv-relatorio-corretor"

	termsBatchSize = 10000
)

// Batch is everything the search index delivers for one competence period.
type Batch struct {
	Billings      []pipeline.Billing
	Contracts     []pipeline.Contract
	Beneficiaries []pipeline.Beneficiary
}

type Elastic struct {
	client *elasticsearch.Client
	log    zerolog.Logger

	maxResults    int
	pageSize      int
	maxIterations int
	keepAlive     time.Duration
	timeout       time.Duration
}

func NewElastic(client *elasticsearch.Client, log zerolog.Logger) *Elastic {
	return &Elastic{
		client:        client,
		log:           log,
		maxResults:    config.MaxSearchResults,
		pageSize:      config.ScrollPageSize,
		maxIterations: config.MaxScrollIterations,
		keepAlive:     config.ScrollKeepAlive,
		timeout:       config.SearchTimeout,
	}
}

// NewElasticClient builds a client from ES_URL, ES_USER and ES_PASSWORD style settings.
func NewElasticClient(addresses []string, user, password string) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  user,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	return client, nil
}

func (e *Elastic) Ping(ctx context.Context) error {
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("ping elasticsearch: %s", res.Status())
	}
	return nil
}

type hit[T any] struct {
	ID     string `json:"_id"`
	Source T      `json:"_source"`
}

type searchResponse[T any] struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []hit[T] `json:"hits"`
	} `json:"hits"`
}

type billingDoc struct {
	ContractNumber text `json:"contratonumero"`
	Proposal       text `json:"contratonumeroproposta"`
	Cycle          text `json:"cobrancaciclo"`
	Status         text `json:"contratostatusdescricao"`
	PaymentDate    text `json:"cobrancadatapagamento"`
	Amount         text `json:"cobrancavalor"`
}

type contractDoc struct {
	Number          text `json:"contratonumero"`
	DistributorCode text `json:"corretoracodigo"`
	SupervisorCPF   text `json:"supervisorcpf"`
	SupervisorName  text `json:"supervisornome"`
	BrokerCPF       text `json:"corretorcpf"`
	BrokerName      text `json:"corretornome"`
}

type beneficiaryDoc struct {
	ContractNumber text `json:"contratonumero"`
	Proposal       text `json:"contratonumeroproposta"`
	Branch         text `json:"filialgerencialnome"`
	Operator       text `json:"operadoranomefantasia"`
	Entity         text `json:"entidadesigla"`
	Plan           text `json:"planonome"`
	Vigencia       text `json:"contratodatainiciovigencia"`
	Cancelled      text `json:"beneficiarioinddesligado"`
	CPF            text `json:"beneficiariocpf"`
	Name           text `json:"beneficiarionome"`
	BirthDate      text `json:"beneficiariodatadenascimento"`
	Type           text `json:"beneficiariotipodescricao"`
}

type brokerDoc struct {
	CPF        text `json:"corretorcpf"`
	Name       text `json:"corretornome"`
	Email      text `json:"corretoremail"`
	MobileArea text `json:"corretordddcelular"`
	Mobile     text `json:"corretornumcelular"`
}

// Extract downloads the billing lines paid in [start, end], then the contracts and beneficiaries
// they reference.
func (e *Elastic) Extract(ctx context.Context, start, end time.Time, sink *logsink.Sink) (Batch, error) {
	var batch Batch

	billingQuery := map[string]any{
		"range": map[string]any{
			"cobrancadatapagamento": map[string]any{
				"gte": start.Format(config.DateFormat),
				"lte": end.Format(config.DateFormat),
			},
		},
	}
	total, err := e.count(ctx, IndexBilling, billingQuery)
	if err != nil {
		return batch, err
	}
	size := total
	if total > e.maxResults {
		size = e.maxResults
		sink.Printf("[WARN] result ceiling of %d documents applied (total: %d)", e.maxResults, total)
		e.log.Warn().Int("total", total).Int("limit", e.maxResults).Msg("billing extract truncated")
	}
	billings, err := search[billingDoc](ctx, e, IndexBilling, billingQuery, size)
	if err != nil {
		return batch, err
	}
	sink.Printf("| - billing lines: %d", len(billings))

	contractSet := make(map[string]struct{})
	proposalSet := make(map[string]struct{})
	var contractNumbers, proposals []string
	for _, h := range billings {
		d := h.Source
		batch.Billings = append(batch.Billings, pipeline.Billing{
			ContractNumber: d.ContractNumber.String(),
			Parcel:         d.Cycle.Int(),
			Status:         d.Status.String(),
			PaymentDate:    d.PaymentDate.Date(),
			Amount:         d.Amount.Decimal(),
		})
		if n := d.ContractNumber.String(); n != "" {
			if _, ok := contractSet[n]; !ok {
				contractSet[n] = struct{}{}
				contractNumbers = append(contractNumbers, n)
			}
		}
		if p := d.Proposal.String(); p != "" {
			if _, ok := proposalSet[p]; !ok {
				proposalSet[p] = struct{}{}
				proposals = append(proposals, p)
			}
		}
	}

	for _, chunk := range chunks(contractNumbers, termsBatchSize) {
		hits, err := scroll[contractDoc](ctx, e, IndexContracts, terms("contratonumero.keyword", chunk), sink)
		if err != nil {
			return batch, err
		}
		for _, h := range hits {
			d := h.Source
			batch.Contracts = append(batch.Contracts, pipeline.Contract{
				Number:          d.Number.String(),
				DistributorCode: d.DistributorCode.String(),
				BrokerCPF:       d.BrokerCPF.String(),
				BrokerName:      d.BrokerName.String(),
				SupervisorCPF:   d.SupervisorCPF.String(),
				SupervisorName:  d.SupervisorName.String(),
			})
		}
	}
	sink.Printf("| - contracts: %d", len(batch.Contracts))

	for _, chunk := range chunks(proposals, termsBatchSize) {
		query := terms("contratonumeroproposta.keyword", chunk)
		n, err := e.count(ctx, IndexBeneficiaries, query)
		if err != nil {
			return batch, err
		}
		if n == 0 {
			continue
		}
		hits, err := search[beneficiaryDoc](ctx, e, IndexBeneficiaries, query, n)
		if err != nil {
			return batch, err
		}
		for _, h := range hits {
			d := h.Source
			batch.Beneficiaries = append(batch.Beneficiaries, pipeline.Beneficiary{
				ContractNumber:  d.ContractNumber.String(),
				Proposal:        d.Proposal.String(),
				BeneficiaryID:   h.ID,
				CPF:             d.CPF.String(),
				Name:            d.Name.String(),
				BirthDate:       d.BirthDate.Date(),
				BeneficiaryType: d.Type.String(),
				Operator:        d.Operator.String(),
				Entity:          d.Entity.String(),
				Plan:            d.Plan.String(),
				Branch:          d.Branch.String(),
				Vigencia:        d.Vigencia.Date(),
				Cancelled:       d.Cancelled.Bool(),
			})
		}
	}
	sink.Printf("| - beneficiaries: %d", len(batch.Beneficiaries))
	return batch, nil
}

// Brokers downloads the whole broker directory.
func (e *Elastic) Brokers(ctx context.Context, sink *logsink.Sink) ([]refdata.Contact, error) {
	hits, err := scroll[brokerDoc](ctx, e, IndexBrokers, map[string]any{"match_all": map[string]any{}}, sink)
	if err != nil {
		return nil, err
	}
	out := make([]refdata.Contact, 0, len(hits))
	for _, h := range hits {
		d := h.Source
		out = append(out, refdata.Contact{
			CPF:   model.NormalizeCPF(d.CPF.String()),
			Name:  d.Name.String(),
			Email: d.Email.String(),
			Phone: d.MobileArea.String() + d.Mobile.String(),
		})
	}
	sink.Printf("| - broker directory: %d", len(out))
	return out, nil
}

func (e *Elastic) count(ctx context.Context, index string, query map[string]any) (int, error) {
	body, err := encodeQuery(query)
	if err != nil {
		return 0, err
	}
	res, err := e.client.Count(
		e.client.Count.WithContext(ctx),
		e.client.Count.WithIndex(index),
		e.client.Count.WithBody(body),
	)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", index, err)
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := decode(res, &out); err != nil {
		return 0, fmt.Errorf("count %s: %w", index, err)
	}
	return out.Count, nil
}

func search[T any](ctx context.Context, e *Elastic, index string, query map[string]any, size int) ([]hit[T], error) {
	body, err := encodeQuery(query)
	if err != nil {
		return nil, err
	}
	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(index),
		e.client.Search.WithBody(body),
		e.client.Search.WithSize(size),
		e.client.Search.WithTimeout(e.timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	var out searchResponse[T]
	if err := decode(res, &out); err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	return out.Hits.Hits, nil
}

// scroll pages through every hit of query, stopping after maxIterations pages.
func scroll[T any](ctx context.Context, e *Elastic, index string, query map[string]any, sink *logsink.Sink) ([]hit[T], error) {
	body, err := encodeQuery(query)
	if err != nil {
		return nil, err
	}
	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(index),
		e.client.Search.WithBody(body),
		e.client.Search.WithSize(e.pageSize),
		e.client.Search.WithScroll(e.keepAlive),
	)
	if err != nil {
		return nil, fmt.Errorf("scroll %s: %w", index, err)
	}
	var page searchResponse[T]
	if err := decode(res, &page); err != nil {
		return nil, fmt.Errorf("scroll %s: %w", index, err)
	}

	scrollID := page.ScrollID
	defer e.clearScroll(scrollID)

	remaining := page.Hits.Total.Value
	var out []hit[T]
	for i := 1; ; i++ {
		if i > e.maxIterations {
			sink.Printf("[WARN] scroll limit of %d iterations reached on %s", e.maxIterations, index)
			e.log.Warn().Str("index", index).Int("iterations", e.maxIterations).Msg("scroll iteration limit reached")
			break
		}
		out = append(out, page.Hits.Hits...)
		remaining -= len(page.Hits.Hits)
		if remaining <= 0 || len(page.Hits.Hits) == 0 {
			break
		}

		res, err := e.client.Scroll(
			e.client.Scroll.WithContext(ctx),
			e.client.Scroll.WithScrollID(scrollID),
			e.client.Scroll.WithScroll(e.keepAlive),
		)
		if err != nil {
			return nil, fmt.Errorf("scroll %s page %d: %w", index, i+1, err)
		}
		page = searchResponse[T]{}
		if err := decode(res, &page); err != nil {
			return nil, fmt.Errorf("scroll %s page %d: %w", index, i+1, err)
		}
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
	}
	return out, nil
}

func (e *Elastic) clearScroll(id string) {
	if id == "" {
		return
	}
	res, err := e.client.ClearScroll(e.client.ClearScroll.WithScrollID(id))
	if err != nil {
		e.log.Debug().Err(err).Msg("clear scroll")
		return
	}
	_ = res.Body.Close()
}

func terms(field string, values []string) map[string]any {
	return map[string]any{"terms": map[string]any{field: values}}
}

func encodeQuery(query map[string]any) (io.Reader, error) {
	body := map[string]any{"query": query}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	return &buf, nil
}

func decode(res *esapi.Response, into any) error {
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%s: %s", res.Status(), strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(res.Body).Decode(into); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func chunks(values []string, size int) [][]string {
	var out [][]string
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}
