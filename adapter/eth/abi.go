package eth

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABI = `[
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const oracleABI = `[
{"type":"function","name":"latestPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const addressesProviderABI = `[
{"type":"function","name":"getPool","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

// getReserveData returns a static struct, which encodes exactly like its
// members listed one by one; aTokenAddress is word 8.
const lendingPoolABI = `[
{"type":"function","name":"supply","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getReserveData","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[
{"name":"configuration","type":"uint256"},
{"name":"liquidityIndex","type":"uint128"},
{"name":"currentLiquidityRate","type":"uint128"},
{"name":"variableBorrowIndex","type":"uint128"},
{"name":"currentVariableBorrowRate","type":"uint128"},
{"name":"currentStableBorrowRate","type":"uint128"},
{"name":"lastUpdateTimestamp","type":"uint40"},
{"name":"id","type":"uint16"},
{"name":"aTokenAddress","type":"address"},
{"name":"stableDebtTokenAddress","type":"address"},
{"name":"variableDebtTokenAddress","type":"address"},
{"name":"interestRateStrategyAddress","type":"address"},
{"name":"accruedToTreasury","type":"uint128"},
{"name":"unbacked","type":"uint128"},
{"name":"isolationModeTotalDebt","type":"uint128"}]}
]`

const swapRouterABI = `[
{"type":"function","name":"exactInputSingle","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[
{"name":"tokenIn","type":"address"},
{"name":"tokenOut","type":"address"},
{"name":"fee","type":"uint24"},
{"name":"recipient","type":"address"},
{"name":"deadline","type":"uint256"},
{"name":"amountIn","type":"uint256"},
{"name":"amountOutMinimum","type":"uint256"},
{"name":"sqrtPriceLimitX96","type":"uint160"}]}],
"outputs":[{"name":"amountOut","type":"uint256"}]}
]`

const reserveATokenIndex = 8

var (
	erc20Contract             = mustParseABI("erc20", erc20ABI)
	oracleContract            = mustParseABI("oracle", oracleABI)
	addressesProviderContract = mustParseABI("addresses provider", addressesProviderABI)
	lendingPoolContract       = mustParseABI("lending pool", lendingPoolABI)
	swapRouterContract        = mustParseABI("swap router", swapRouterABI)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid %s abi: %v", name, err))
	}
	return parsed
}
