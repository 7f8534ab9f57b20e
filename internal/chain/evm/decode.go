package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"tradeledger/internal/chain"
)

var transferEventSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// DecodeTransferLog decodes an ERC20 Transfer log. It returns nil for any log
// that is not exactly topic0 + two indexed addresses + one 32-byte value,
// which also rejects ERC721 transfers where the token id is indexed.
func DecodeTransferLog(lg *types.Log) *chain.Transfer {
	if lg == nil || len(lg.Topics) != 3 || lg.Topics[0] != transferEventSig {
		return nil
	}
	if len(lg.Data) != common.HashLength {
		return nil
	}
	// indexed addresses are left-padded to 32 bytes
	from := common.BytesToAddress(lg.Topics[1].Bytes()[12:])
	to := common.BytesToAddress(lg.Topics[2].Bytes()[12:])

	return &chain.Transfer{
		Token:       Normalize(lg.Address.Hex()),
		From:        Normalize(from.Hex()),
		To:          Normalize(to.Hex()),
		Amount:      new(big.Int).SetBytes(lg.Data),
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
	}
}
