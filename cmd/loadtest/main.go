package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Msg    string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	voucherID := flag.Int64("voucher", 1, "seckill voucher id")
	stock := flag.Int64("stock", 1, "stock of the voucher to create; <=0 skips creation")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token for voucher creation")

	// 超卖测试参数：200 个用户并发抢 stock 张
	nUsers := flag.Int("users", 200, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	dupTotal := flag.Int("dup", 50, "requests of the same user in duplicate test")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	if *stock > 0 {
		now := time.Now()
		body := map[string]any{
			"voucher_id": *voucherID,
			"stock":      *stock,
			"begin_time": now.Add(-time.Minute).Format(time.RFC3339),
			"end_time":   now.Add(time.Hour).Format(time.RFC3339),
		}
		if err := doPOST(client, *baseURL+"/voucher/seckill", body, map[string]string{
			"X-Admin-Token": *adminToken,
		}); err != nil {
			panic(fmt.Sprintf("create voucher failed: %v", err))
		}
		fmt.Println("voucher created, stock preloaded:", *stock)
	}

	// 1) 不超卖测试：不同用户并发
	fmt.Printf("start oversell test: voucher=%d users=%d concurrency=%d\n", *voucherID, *nUsers, *concurrency)
	results := runSeckill(client, *baseURL, *voucherID, *nUsers, *concurrency, func(i int) int64 { return int64(i + 1) })
	printSummary("oversell", results)

	left, err := getStock(client, *baseURL, *voucherID)
	if err != nil {
		fmt.Println("stock check err:", err)
	} else {
		fmt.Println("final cache stock:", left)
	}

	// 2) 一人一单测试：同一个用户并发重复抢，至多一次成功
	const dupUser = 10001
	fmt.Printf("\nstart duplicate test: same user (%d), %d requests\n", dupUser, *dupTotal)
	results = runSeckill(client, *baseURL, *voucherID, *dupTotal, *dupTotal, func(int) int64 { return dupUser })
	printSummary("duplicate", results)
}

func runSeckill(client *http.Client, baseURL string, voucherID int64, total, concurrency int, userOf func(i int) int64) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = seckillOnce(client, baseURL, voucherID, userOf(idx))
		}(i)
	}

	wg.Wait()
	return results
}

func seckillOnce(client *http.Client, baseURL string, voucherID, userID int64) Result {
	url := fmt.Sprintf("%s/voucher-order/seckill/%d", baseURL, voucherID)
	req, _ := http.NewRequest(http.MethodPost, url, nil)
	req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))

	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	var out struct {
		Msg string `json:"msg"`
	}
	b, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(b, &out)
	return Result{Status: resp.StatusCode, Msg: out.Msg}
}

// printSummary 按状态码与错误信息聚合输出。
func printSummary(name string, results []Result) {
	count := map[string]int{}
	for _, r := range results {
		if r.Err != nil {
			count["transport error"]++
			continue
		}
		k := strconv.Itoa(r.Status)
		if r.Msg != "" {
			k += " " + r.Msg
		}
		count[k]++
	}
	keys := make([]string, 0, len(count))
	for k := range count {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("[%s] outcome summary:\n", name)
	for _, k := range keys {
		fmt.Printf("  %s -> %d\n", k, count[k])
	}
}

// doPOST 发送 POST 请求（支持附加请求头）。
func doPOST(client *http.Client, url string, body any, headers map[string]string) error {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(http.MethodPost, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// getStock 查询缓存侧剩余库存，用于压测后校验是否出现超卖。
func getStock(client *http.Client, baseURL string, voucherID int64) (int64, error) {
	resp, err := client.Get(fmt.Sprintf("%s/voucher/seckill/%d/stock", baseURL, voucherID))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Data struct {
			Stock int64 `json:"stock"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, err
	}
	return out.Data.Stock, nil
}
