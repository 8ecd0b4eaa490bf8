package config

// Ticker recognition lists used by the virality scorer. Membership in
// a higher band always outranks a lower one.

// Magnificent7 are the flagship mega-cap tickers.
var Magnificent7 = map[string]bool{
	"AAPL": true, "MSFT": true, "GOOGL": true, "GOOG": true,
	"AMZN": true, "NVDA": true, "META": true, "TSLA": true,
}

// MemeStocks are high retail-engagement tickers.
var MemeStocks = map[string]bool{
	"TSLA": true, "GME": true, "AMC": true, "BBBY": true, "PLTR": true,
	"NIO": true, "RIVN": true, "LCID": true, "SOFI": true, "HOOD": true,
	"COIN": true, "MARA": true, "RIOT": true, "NVDA": true, "AMD": true,
}

// SP500 is broad-index membership (abbreviated list).
var SP500 = map[string]bool{
	"AAPL": true, "MSFT": true, "AMZN": true, "NVDA": true, "GOOGL": true,
	"GOOG": true, "META": true, "TSLA": true, "BRK.B": true, "UNH": true,
	"JNJ": true, "JPM": true, "V": true, "PG": true, "XOM": true,
	"MA": true, "HD": true, "CVX": true, "MRK": true, "ABBV": true,
	"LLY": true, "PEP": true, "KO": true, "COST": true, "AVGO": true,
	"WMT": true, "MCD": true, "CSCO": true, "ACN": true, "TMO": true,
	"ABT": true, "DHR": true, "NEE": true, "VZ": true, "ADBE": true,
	"NKE": true, "PM": true, "TXN": true, "WFC": true, "CRM": true,
	"BMY": true, "UPS": true, "MS": true, "RTX": true, "HON": true,
	"QCOM": true, "UNP": true, "LOW": true, "ORCL": true, "IBM": true,
	"INTC": true, "SPGI": true, "CAT": true, "GE": true, "AMGN": true,
	"INTU": true, "BA": true, "DE": true, "AXP": true, "ISRG": true,
	"MDLZ": true, "SYK": true, "ADI": true, "REGN": true, "BKNG": true,
	"BLK": true, "GILD": true, "VRTX": true, "C": true, "SBUX": true,
	"MMC": true, "ADP": true, "TJX": true, "PLD": true, "CI": true,
	"CB": true, "SCHW": true, "LMT": true, "SO": true, "MO": true,
	"DUK": true, "EOG": true, "ZTS": true, "TMUS": true, "BDX": true,
	"CL": true, "NOC": true, "CSX": true, "ICE": true, "SHW": true,
	"CME": true, "ITW": true, "WM": true, "PNC": true, "USB": true,
	"TGT": true, "EQIX": true, "FDX": true, "EL": true, "GD": true,
	"EMR": true, "MU": true, "LRCX": true, "AMAT": true, "KLAC": true,
	"SNPS": true, "CDNS": true, "MRVL": true, "PANW": true, "CRWD": true,
	"DDOG": true, "ZS": true, "SNOW": true, "NET": true, "ABNB": true,
	"UBER": true, "LYFT": true,
}
