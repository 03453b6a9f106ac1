package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// TokenABI covers the ERC20 subset the gateway reads and writes.
const TokenABI = `[
	{
		"constant": true,
		"inputs": [{"name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

// StakingABI is the lock-term staking contract. Positions are addressed by
// (owner, index); deposit's option is the 1-based lock term.
const StakingABI = `[
	{
		"inputs": [
			{"name": "_amount", "type": "uint256"},
			{"name": "_option", "type": "uint256"}
		],
		"name": "deposit",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "_index", "type": "uint256"}],
		"name": "withdraw",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "_user", "type": "address"}],
		"name": "getStakedTokens",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "_user", "type": "address"}],
		"name": "getStakedItemLength",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "_user", "type": "address"},
			{"name": "_index", "type": "uint256"}
		],
		"name": "getStakedItemAmount",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "_user", "type": "address"},
			{"name": "_index", "type": "uint256"}
		],
		"name": "getStakedItemAPY",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "_user", "type": "address"},
			{"name": "_index", "type": "uint256"}
		],
		"name": "getStakedItemReward",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "_user", "type": "address"},
			{"name": "_index", "type": "uint256"}
		],
		"name": "getStakedItemElapsed",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var (
	tokenABI   = mustParseABI("token", TokenABI)
	stakingABI = mustParseABI("staking", StakingABI)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse %s ABI: %v", name, err))
	}
	return parsed
}
