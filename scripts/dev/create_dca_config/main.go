package main

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/vultisig/dca-exchange/api"
	"github.com/vultisig/dca-exchange/config"
	"github.com/vultisig/dca-exchange/internal/sigutil"
)

var (
	configName string
	keyHex     string
)

func main() {
	flag.StringVar(&configName, "config", "config", "server config name")
	flag.StringVar(&keyHex, "key", os.Getenv("DCA_DEV_PRIVATE_KEY"), "hex private key of the caller")
	flag.Parse()

	if keyHex == "" {
		panic("private key is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		panic(err)
	}
	caller := crypto.PubkeyToAddress(key.PublicKey)
	fmt.Printf("Caller address: %s\n", caller.Hex())

	serverConfig, err := config.ReadConfig(configName, ".")
	if err != nil {
		panic(err)
	}

	reader := bufio.NewReader(os.Stdin)
	prompt := func(label string) string {
		fmt.Print(label)
		line, _ := reader.ReadString('\n')
		return strings.TrimSpace(line)
	}

	req := api.AddDCAConfigRequest{
		PairID:      prompt("Enter pair id: "),
		IsSwapAforB: strings.EqualFold(prompt("Sell token A for token B? [y/N]: "), "y"),
		Min:         prompt("Enter minimum price: "),
		Max:         prompt("Enter maximum price: "),
		Amount:      prompt("Enter amount per execution: "),
		DelayBucket: prompt("Enter delay bucket (none, minute, hour, day, week): "),
	}
	fmt.Sscan(prompt("Enter scaling factor (0 for none): "), &req.ScalingFactor)

	body, err := json.Marshal(req)
	if err != nil {
		panic(err)
	}
	fmt.Println("DCA config", string(body))

	const path = "/configs"
	signedAt := time.Now().Unix()
	idempotencyKey := uuid.NewString()
	sig, err := sigutil.Sign(key, sigutil.CallerMessage(http.MethodPost, path, signedAt, idempotencyKey, body))
	if err != nil {
		panic(err)
	}

	host := fmt.Sprintf("http://%s:%d", serverConfig.Server.Host, serverConfig.Server.Port)
	httpReq, err := http.NewRequest(http.MethodPost, host+path, bytes.NewReader(body))
	if err != nil {
		panic(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(api.HeaderCallerAddress, caller.Hex())
	httpReq.Header.Set(api.HeaderCallerSignature, "0x"+hex.EncodeToString(sig))
	httpReq.Header.Set(api.HeaderCallerTimestamp, strconv.FormatInt(signedAt, 10))
	httpReq.Header.Set(api.HeaderIdempotencyKey, idempotencyKey)

	fmt.Printf("Creating DCA config on server: %s\n", host)
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("Request sent: %d %s\n", resp.StatusCode, string(respBody))
}
