package benchmark

import (
	"bytes"
	"context"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"ATX/configs"
	"ATX/network"

	mapset "github.com/deckarep/golang-set"
	json "github.com/goccy/go-json"
	"github.com/pingcap/go-ycsb/pkg/generator"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Stmt owns one benchmark run: the provisioned accounts, the HTTP session
// against coordinator and participant, and the outcome counters.
type Stmt struct {
	conf     *configs.Config
	http     *http.Client
	token    string
	accounts []string
	opening  decimal.Decimal

	nCommitted int64
	nAborted   int64
	nErrors    int64
	stop       int32
}

// Client is one closed-loop worker issuing transfers with a zipfian account
// pick, so contention concentrates on a few hot rows.
type Client struct {
	from *Stmt
	r    *rand.Rand
	zip  *generator.Zipfian
}

func NewStmt(conf *configs.Config) (*Stmt, error) {
	token := ""
	if conf.TokenSecret != "" {
		var err error
		token, err = network.MintServiceToken(conf.TokenSecret, "benchmark")
		if err != nil {
			return nil, err
		}
	}
	return &Stmt{
		conf:  conf,
		http:  &http.Client{Timeout: 2 * conf.TransactionTimeout},
		token: token,
	}, nil
}

func (c *Stmt) post(url string, body interface{}, into *network.APIResponse) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	return json.NewDecoder(res.Body).Decode(into)
}

// Provision creates n accounts with the same opening balance on the
// participant and remembers their identifiers.
func (c *Stmt) Provision(n int, opening decimal.Decimal) error {
	c.opening = opening
	ids := mapset.NewSet()
	for i := 0; i < n; i++ {
		res := network.APIResponse{}
		err := c.post(c.conf.ParticipantURL+"/accounts", &network.CreateAccountRequest{
			OwnerID:        "bench",
			OpeningBalance: opening,
		}, &res)
		if err != nil {
			return err
		}
		acct := struct {
			AccountID string `json:"account_id"`
		}{}
		raw, err := json.Marshal(res.Data)
		if err != nil {
			return err
		}
		if err = json.Unmarshal(raw, &acct); err != nil {
			return err
		}
		ids.Add(acct.AccountID)
	}
	configs.Assert(ids.Cardinality() == n, "duplicated account identifiers from provisioning")
	c.accounts = make([]string, 0, n)
	for id := range ids.Iter() {
		c.accounts = append(c.accounts, id.(string))
	}
	return nil
}

func (c *Stmt) newClient(seed int64, skew float64) *Client {
	r := rand.New(rand.NewSource(seed))
	return &Client{
		from: c,
		r:    r,
		zip:  generator.NewZipfianWithRange(0, int64(len(c.accounts)-1), skew),
	}
}

// pickPair draws two distinct accounts, the first zipfian-hot.
func (c *Client) pickPair() (string, string) {
	src := c.from.accounts[c.zip.Next(c.r)]
	dst := src
	for dst == src {
		dst = c.from.accounts[c.zip.Next(c.r)]
	}
	return src, dst
}

func (c *Client) issueOne() {
	src, dst := c.pickPair()
	amount := decimal.NewFromInt(int64(c.r.Intn(20) + 1))
	res := network.APIResponse{}
	err := c.from.post("http://"+c.from.conf.CoordinatorAddr+"/transfers", &network.TransferRequest{
		SourceAccountID:      src,
		DestinationAccountID: dst,
		Amount:               amount,
	}, &res)
	switch {
	case err != nil:
		atomic.AddInt64(&c.from.nErrors, 1)
	case res.Success:
		atomic.AddInt64(&c.from.nCommitted, 1)
	default:
		atomic.AddInt64(&c.from.nAborted, 1)
	}
}

// RunLoad drives nClients closed-loop workers for the given duration.
func (c *Stmt) RunLoad(ctx context.Context, nClients int, duration time.Duration, skew float64) {
	atomic.StoreInt32(&c.stop, 0)
	deadline := time.Now().Add(duration)
	wg := sync.WaitGroup{}
	for i := 0; i < nClients; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			client := c.newClient(seed, skew)
			for time.Now().Before(deadline) && atomic.LoadInt32(&c.stop) == 0 {
				select {
				case <-ctx.Done():
					return
				default:
				}
				client.issueOne()
			}
		}(int64(i) + 1)
	}
	wg.Wait()
	logrus.WithFields(logrus.Fields{
		"committed": atomic.LoadInt64(&c.nCommitted),
		"aborted":   atomic.LoadInt64(&c.nAborted),
		"errors":    atomic.LoadInt64(&c.nErrors),
		"clients":   nClients,
		"duration":  duration.String(),
	}).Info("benchmark load finished")
}

// Stop asks running workers to exit after their in-flight transfer.
func (c *Stmt) Stop() {
	atomic.StoreInt32(&c.stop, 1)
}

// CheckConservation verifies that the sum over all benchmark accounts still
// equals the provisioned total. Transfers move money, they never mint it.
func (c *Stmt) CheckConservation() (bool, decimal.Decimal, error) {
	sum := decimal.Zero
	for _, id := range c.accounts {
		req, err := http.NewRequest(http.MethodGet, c.conf.ParticipantURL+"/accounts/"+id, nil)
		if err != nil {
			return false, sum, err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		res, err := c.http.Do(req)
		if err != nil {
			return false, sum, err
		}
		envelope := struct {
			Success bool `json:"success"`
			Data    struct {
				Balance decimal.Decimal `json:"balance"`
			} `json:"data"`
		}{}
		err = json.NewDecoder(res.Body).Decode(&envelope)
		_ = res.Body.Close()
		if err != nil {
			return false, sum, err
		}
		sum = sum.Add(envelope.Data.Balance)
	}
	expected := c.opening.Mul(decimal.NewFromInt(int64(len(c.accounts))))
	return sum.Equal(expected), sum, nil
}
