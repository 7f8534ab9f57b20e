package evm

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"tradeledger/internal/metrics"
)

const erc20MetadataABI = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20MetadataABI))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	erc20ABI = parsed
}

func (a *Adapter) TokenName(ctx context.Context, token string) (string, error) {
	return a.callString(ctx, token, "name")
}

func (a *Adapter) TokenSymbol(ctx context.Context, token string) (string, error) {
	return a.callString(ctx, token, "symbol")
}

func (a *Adapter) TokenDecimals(ctx context.Context, token string) (uint8, error) {
	out, err := a.call(ctx, token, "decimals")
	if err != nil {
		return 0, err
	}
	vals, err := erc20ABI.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", vals[0])
	}
	return d, nil
}

func (a *Adapter) callString(ctx context.Context, token, method string) (string, error) {
	out, err := a.call(ctx, token, method)
	if err != nil {
		return "", err
	}
	vals, err := erc20ABI.Unpack(method, out)
	if err == nil {
		if s, ok := vals[0].(string); ok {
			return s, nil
		}
	}
	// some older tokens return bytes32 instead of string
	if len(out) == common.HashLength {
		s := string(bytes.TrimRight(out, "\x00"))
		if s != "" {
			return s, nil
		}
	}
	if err == nil {
		err = fmt.Errorf("unexpected %s return type", method)
	}
	return "", fmt.Errorf("unpack %s: %w", method, err)
}

func (a *Adapter) call(ctx context.Context, token, method string) ([]byte, error) {
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("invalid token address %q", token)
	}
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	to := common.HexToAddress(token)
	start := time.Now()
	out, err := a.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	metrics.ObserveRPC(a.name, "eth_call", start, err)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, token, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s on %s: empty result", method, token)
	}
	return out, nil
}
