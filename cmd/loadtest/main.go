package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	State  string
	Err    error
}

type message struct {
	TenantID   string `json:"tenant_id"`
	CustomerID string `json:"customer_id"`
	Text       string `json:"text"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	tenantID := flag.String("tenant", "t1", "tenant id")
	text := flag.String("text", "2 coke", "message text for the fan-out test")
	orderCheck := flag.String("order", "", "order number to fetch after the test")

	// 不同客户并发下单，检查会话互不干扰
	nCustomers := flag.Int("customers", 200, "distinct customers")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	fmt.Printf("start fan-out test: tenant=%s customers=%d concurrency=%d\n", *tenantID, *nCustomers, *concurrency)
	results := runCustomers(client, *baseURL, *tenantID, *text, *nCustomers, *concurrency)
	printSummary("fan_out", results)

	// 同一客户重复投递：单客户锁串行化，超过窗口上限应出现 429
	fmt.Println("\nstart duplicate delivery test: same customer (dup-1), 50 requests, concurrency 50")
	results2 := runSameCustomer(client, *baseURL, *tenantID, "dup-1", *text, 50, 50)
	printSummary("duplicate", results2)

	if *orderCheck != "" {
		status, err := getOrderStatus(client, *baseURL, *orderCheck)
		if err != nil {
			fmt.Println("order check err:", err)
		} else {
			fmt.Println("order status:", status)
		}
	}
}

func runCustomers(client *http.Client, baseURL, tenantID, text string, nCustomers, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, nCustomers)

	for i := 0; i < nCustomers; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			msg := message{TenantID: tenantID, CustomerID: fmt.Sprintf("load-%d", idx+1), Text: text}
			results[idx] = sendOnce(client, baseURL, msg)
		}(i)
	}

	wg.Wait()
	return results
}

func runSameCustomer(client *http.Client, baseURL, tenantID, customerID, text string, total, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			results[idx] = sendOnce(client, baseURL, message{TenantID: tenantID, CustomerID: customerID, Text: text})
		}(i)
	}

	wg.Wait()
	return results
}

func sendOnce(client *http.Client, baseURL string, msg message) Result {
	b, _ := json.Marshal(msg)
	url := fmt.Sprintf("%s/api/messages", baseURL)
	httpReq, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	res := Result{Status: resp.StatusCode, Body: string(body)}
	var out struct {
		Data struct {
			State string `json:"state"`
		} `json:"data"`
	}
	if json.Unmarshal(body, &out) == nil {
		res.State = out.Data.State
	}
	return res
}

// printSummary 聚合输出状态码与会话状态分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	states := map[string]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
		if r.State != "" {
			states[r.State]++
		}
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 404, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	for st, n := range states {
		fmt.Printf("  state %s -> %d\n", st, n)
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// getOrderStatus 压测后查询订单，确认支付/状态没有被重复推进。
func getOrderStatus(client *http.Client, baseURL, orderNo string) (string, error) {
	url := fmt.Sprintf("%s/api/orders/%s", baseURL, orderNo)
	resp, err := client.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Code int `json:"code"`
		Data struct {
			Order json.RawMessage `json:"order"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return "", err
	}
	return string(out.Data.Order), nil
}
