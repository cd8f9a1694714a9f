package qchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

const quantumNFTABIJSON = `[
	{"type":"function","name":"mintNFT","stateMutability":"payable",
	 "inputs":[{"name":"name","type":"string"},{"name":"description","type":"string"},{"name":"tokenURI","type":"string"},{"name":"quantumHash","type":"string"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"verifyQuantumHash","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"},{"name":"quantumHash","type":"string"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"totalMinted","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"mintPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"tokenOfOwnerByIndex","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"NFTMinted","anonymous":false,
	 "inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"owner","type":"address","indexed":true},
	           {"name":"name","type":"string","indexed":false},{"name":"quantumHash","type":"string","indexed":false},
	           {"name":"tokenURI","type":"string","indexed":false}]}
]`

const qTokenABIJSON = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transferWithPQC","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	quantumNFTABI = mustParseABI(quantumNFTABIJSON)
	qTokenABI     = mustParseABI(qTokenABIJSON)

	nftMintedTopic = quantumNFTABI.Events["NFTMinted"].ID
	// ERC-721 Transfer(address,address,uint256)
	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
