// Package trader holds the trading objects carried as event payloads and
// the identifier conventions used to key them.
package trader

// Direction of an order, trade or position
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionNet   Direction = "NET"
)

// Offset of an order or trade
type Offset string

const (
	OffsetNone           Offset = ""
	OffsetOpen           Offset = "OPEN"
	OffsetClose          Offset = "CLOSE"
	OffsetCloseToday     Offset = "CLOSETODAY"
	OffsetCloseYesterday Offset = "CLOSEYESTERDAY"
)

// Status of an order or quote
type Status string

const (
	StatusSubmitting Status = "SUBMITTING"
	StatusNotTraded  Status = "NOTTRADED"
	StatusPartTraded Status = "PARTTRADED"
	StatusAllTraded  Status = "ALLTRADED"
	StatusCancelled  Status = "CANCELLED"
	StatusRejected   Status = "REJECTED"
)

// IsActive reports whether an order or quote in this status can still trade
func (s Status) IsActive() bool {
	switch s {
	case StatusSubmitting, StatusNotTraded, StatusPartTraded:
		return true
	}
	return false
}

// Product class of a contract
type Product string

const (
	ProductEquity  Product = "EQUITY"
	ProductFutures Product = "FUTURES"
	ProductOption  Product = "OPTION"
	ProductIndex   Product = "INDEX"
	ProductForex   Product = "FOREX"
	ProductSpot    Product = "SPOT"
	ProductETF     Product = "ETF"
	ProductBond    Product = "BOND"
	ProductSwap    Product = "SWAP"
	ProductFund    Product = "FUND"
)

// OrderType of an order request
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeStop   OrderType = "STOP"
	OrderTypeFAK    OrderType = "FAK"
	OrderTypeFOK    OrderType = "FOK"
	OrderTypeRFQ    OrderType = "RFQ"
	OrderTypeETF    OrderType = "ETF"
)

// Exchange code. The value is the suffix used in vt_symbol.
type Exchange string

const (
	ExchangeBinance      Exchange = "BINANCE"
	ExchangeBinanceUSDM  Exchange = "BINANCE_USDM"
	ExchangeBinanceCOINM Exchange = "BINANCE_COINM"
	ExchangeOKX          Exchange = "OKX"
	ExchangeBybit        Exchange = "BYBIT"
	ExchangeSmart        Exchange = "SMART"
	ExchangeNYSE         Exchange = "NYSE"
	ExchangeNASDAQ       Exchange = "NASDAQ"
	ExchangeCME          Exchange = "CME"
	ExchangeSHFE         Exchange = "SHFE"
	ExchangeCFFEX        Exchange = "CFFEX"
	ExchangeOTC          Exchange = "OTC"
	ExchangeLocal        Exchange = "LOCAL"
	ExchangeGlobal       Exchange = "GLOBAL"
)

// LogLevel follows the numeric levels of the logging convention
type LogLevel int

const (
	LogLevelDebug    LogLevel = 10
	LogLevelInfo     LogLevel = 20
	LogLevelWarning  LogLevel = 30
	LogLevelError    LogLevel = 40
	LogLevelCritical LogLevel = 50
)

func (l LogLevel) String() string {
	switch {
	case l >= LogLevelCritical:
		return "CRITICAL"
	case l >= LogLevelError:
		return "ERROR"
	case l >= LogLevelWarning:
		return "WARNING"
	case l >= LogLevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
