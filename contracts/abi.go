// Package contracts holds the ABI of every contract the Safe automation
// talks to and typed helpers to encode and decode their calls.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ETH is the pseudo token address the automation network uses for the
// native token.
var ETH = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

const SafeABI = `[
 {"type":"function","name":"execTransaction","stateMutability":"payable",
  "inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},{"name":"operation","type":"uint8"}],
  "outputs":[{"name":"success","type":"bool"}]},
 {"type":"function","name":"execTransactionFromModule","stateMutability":"nonpayable",
  "inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},{"name":"operation","type":"uint8"}],
  "outputs":[{"name":"success","type":"bool"}]},
 {"type":"function","name":"enableModule","stateMutability":"nonpayable",
  "inputs":[{"name":"module","type":"address"}],"outputs":[]},
 {"type":"function","name":"disableModule","stateMutability":"nonpayable",
  "inputs":[{"name":"module","type":"address"}],"outputs":[]},
 {"type":"function","name":"isModuleEnabled","stateMutability":"view",
  "inputs":[{"name":"module","type":"address"}],"outputs":[{"name":"enabled","type":"bool"}]}
]`

const ModuleABI = `[
 {"type":"function","name":"whitelistTransaction","stateMutability":"nonpayable",
  "inputs":[{"name":"specs","type":"tuple[]","components":[
    {"name":"to","type":"address"},{"name":"selector","type":"bytes4"},
    {"name":"hasValue","type":"bool"},{"name":"operation","type":"uint8"}]}],
  "outputs":[]},
 {"type":"function","name":"removeTransaction","stateMutability":"nonpayable",
  "inputs":[{"name":"specs","type":"tuple[]","components":[
    {"name":"to","type":"address"},{"name":"selector","type":"bytes4"},
    {"name":"hasValue","type":"bool"},{"name":"operation","type":"uint8"}]}],
  "outputs":[]},
 {"type":"function","name":"getWhitelistedTransactions","stateMutability":"view",
  "inputs":[{"name":"safe","type":"address"}],
  "outputs":[{"name":"specs","type":"tuple[]","components":[
    {"name":"to","type":"address"},{"name":"selector","type":"bytes4"},
    {"name":"hasValue","type":"bool"},{"name":"operation","type":"uint8"}]}]},
 {"type":"function","name":"execute","stateMutability":"nonpayable",
  "inputs":[{"name":"safe","type":"address"},{"name":"txs","type":"tuple[]","components":[
    {"name":"to","type":"address"},{"name":"data","type":"bytes"},
    {"name":"value","type":"uint256"},{"name":"operation","type":"uint8"}]}],
  "outputs":[]}
]`

const TopUpABI = `[
 {"type":"function","name":"addReceivers","stateMutability":"nonpayable",
  "inputs":[{"name":"receivers","type":"address[]"},{"name":"amounts","type":"uint256[]"},{"name":"thresholds","type":"uint256[]"}],
  "outputs":[]},
 {"type":"function","name":"stopAutoTopUp","stateMutability":"nonpayable",
  "inputs":[{"name":"receivers","type":"address[]"}],"outputs":[]},
 {"type":"function","name":"getReceiversOfSafe","stateMutability":"view",
  "inputs":[{"name":"safe","type":"address"}],"outputs":[{"name":"receivers","type":"address[]"}]},
 {"type":"function","name":"getReceiver","stateMutability":"view",
  "inputs":[{"name":"safe","type":"address"},{"name":"receiver","type":"address"}],
  "outputs":[{"name":"amount","type":"uint256"},{"name":"threshold","type":"uint256"}]},
 {"type":"function","name":"checker","stateMutability":"view",
  "inputs":[{"name":"safe","type":"address"}],
  "outputs":[{"name":"canExec","type":"bool"},{"name":"execPayload","type":"bytes"}]},
 {"type":"function","name":"performTopUps","stateMutability":"nonpayable",
  "inputs":[{"name":"safe","type":"address"},{"name":"targets","type":"address[]"}],"outputs":[]}
]`

const HandlerABI = `[
 {"type":"function","name":"startAutoTopUp","stateMutability":"payable",
  "inputs":[{"name":"treasuryDeposit","type":"uint256"},{"name":"receivers","type":"address[]"},
    {"name":"amounts","type":"uint256[]"},{"name":"thresholds","type":"uint256[]"}],
  "outputs":[{"name":"taskId","type":"bytes32"}]},
 {"type":"function","name":"cancelAutoTopUp","stateMutability":"nonpayable",
  "inputs":[],"outputs":[]}
]`

const AutomateABI = `[
 {"type":"function","name":"createTask","stateMutability":"nonpayable",
  "inputs":[{"name":"execAddress","type":"address"},{"name":"execDataOrSelector","type":"bytes"},
    {"name":"moduleData","type":"tuple","components":[{"name":"modules","type":"uint8[]"},{"name":"args","type":"bytes[]"}]},
    {"name":"feeToken","type":"address"}],
  "outputs":[{"name":"taskId","type":"bytes32"}]},
 {"type":"function","name":"cancelTask","stateMutability":"nonpayable",
  "inputs":[{"name":"taskId","type":"bytes32"}],"outputs":[]},
 {"type":"function","name":"getTaskIdsByUser","stateMutability":"view",
  "inputs":[{"name":"taskCreator","type":"address"}],"outputs":[{"name":"taskIds","type":"bytes32[]"}]},
 {"type":"function","name":"getTaskIds","stateMutability":"view",
  "inputs":[],"outputs":[{"name":"taskIds","type":"bytes32[]"}]},
 {"type":"function","name":"getTask","stateMutability":"view",
  "inputs":[{"name":"taskId","type":"bytes32"}],
  "outputs":[{"name":"taskCreator","type":"address"},{"name":"execAddress","type":"address"},
    {"name":"execDataOrSelector","type":"bytes"},
    {"name":"moduleData","type":"tuple","components":[{"name":"modules","type":"uint8[]"},{"name":"args","type":"bytes[]"}]},
    {"name":"feeToken","type":"address"},{"name":"nextExec","type":"uint256"},{"name":"interval","type":"uint256"}]},
 {"type":"function","name":"exec","stateMutability":"nonpayable",
  "inputs":[{"name":"taskCreator","type":"address"},{"name":"execAddress","type":"address"},{"name":"execData","type":"bytes"},
    {"name":"moduleData","type":"tuple","components":[{"name":"modules","type":"uint8[]"},{"name":"args","type":"bytes[]"}]},
    {"name":"txFee","type":"uint256"},{"name":"feeToken","type":"address"},
    {"name":"useTaskTreasuryFunds","type":"bool"},{"name":"revertOnFailure","type":"bool"}],
  "outputs":[]}
]`

const TreasuryABI = `[
 {"type":"function","name":"depositFunds","stateMutability":"payable",
  "inputs":[{"name":"receiver","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"withdrawFunds","stateMutability":"nonpayable",
  "inputs":[{"name":"receiver","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"userTokenBalance","stateMutability":"view",
  "inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"}],"outputs":[{"name":"balance","type":"uint256"}]},
 {"type":"function","name":"useFunds","stateMutability":"nonpayable",
  "inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

const CounterABI = `[
 {"type":"function","name":"increaseCount","stateMutability":"nonpayable",
  "inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"count","stateMutability":"view",
  "inputs":[],"outputs":[{"name":"count","type":"uint256"}]}
]`

// ResolverABI is the output layout every resolver (checker) function shares.
const ResolverABI = `[
 {"type":"function","name":"checker","stateMutability":"view",
  "inputs":[],"outputs":[{"name":"canExec","type":"bool"},{"name":"execPayload","type":"bytes"}]}
]`

var (
	Safe     = mustParse(SafeABI)
	Module   = mustParse(ModuleABI)
	TopUp    = mustParse(TopUpABI)
	Handler  = mustParse(HandlerABI)
	Automate = mustParse(AutomateABI)
	Treasury = mustParse(TreasuryABI)
	Counter  = mustParse(CounterABI)
	Resolver = mustParse(ResolverABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("contracts: invalid ABI: " + err.Error())
	}
	return parsed
}
