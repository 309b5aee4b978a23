package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type TransactionType string

const (
	TxCashIn   TransactionType = "CASH_IN"
	TxCashOut  TransactionType = "CASH_OUT"
	TxDebit    TransactionType = "DEBIT"
	TxPayment  TransactionType = "PAYMENT"
	TxTransfer TransactionType = "TRANSFER"
)

var transactionTypes = []TransactionType{TxCashIn, TxCashOut, TxDebit, TxPayment, TxTransfer}

var transactionAliases = map[string]TransactionType{
	"入账": TxCashIn,
	"存款": TxCashIn,
	"提现": TxCashOut,
	"取款": TxCashOut,
	"借记": TxDebit,
	"支付": TxPayment,
	"缴费": TxPayment,
	"消费": TxPayment,
	"转账": TxTransfer,
}

// ParseTransactionType maps an extracted value onto the model's type vocabulary.
func ParseTransactionType(raw string) (TransactionType, bool) {
	v := strings.TrimSpace(raw)
	if t, ok := transactionAliases[v]; ok {
		return t, true
	}
	upper := strings.ToUpper(strings.ReplaceAll(v, "-", "_"))
	for _, t := range transactionTypes {
		if upper == string(t) {
			return t, true
		}
	}
	return "", false
}

// FeatureVector is the input of the fraud classifier.
type FeatureVector struct {
	Amount         float64
	OldBalanceOrig float64
	NewBalanceOrig float64
	Type           TransactionType
}

// FeatureNames lists the model columns in the order returned by Columns.
func FeatureNames() []string {
	return []string{
		"amount", "oldbalanceOrg", "newbalanceOrig",
		"type_CASH_IN", "type_CASH_OUT", "type_DEBIT", "type_PAYMENT", "type_TRANSFER",
	}
}

func (f FeatureVector) Columns() []float64 {
	cols := []float64{f.Amount, f.OldBalanceOrig, f.NewBalanceOrig}
	for _, t := range transactionTypes {
		if f.Type == t {
			cols = append(cols, 1)
		} else {
			cols = append(cols, 0)
		}
	}
	return cols
}

func (f FeatureVector) Map() map[string]float64 {
	names := FeatureNames()
	cols := f.Columns()
	out := make(map[string]float64, len(names))
	for i, name := range names {
		out[name] = cols[i]
	}
	return out
}

var amountReplacer = strings.NewReplacer(",", "", "，", "", "¥", "", "￥", "", "元", "", "人民币", "", "$", "", " ", "")

func isASCIILetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

// ParseAmount parses a monetary value such as "5,000.00元" or "CNY 5000".
func ParseAmount(raw string) (float64, error) {
	v := strings.TrimSpace(raw)
	if v == "" || v == UnknownValue {
		return 0, fmt.Errorf("%w: empty amount", ErrMissingFeature)
	}
	v = amountReplacer.Replace(v)
	v = strings.TrimFunc(v, isASCIILetter)
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%w: non-numeric amount %q", ErrMissingFeature, raw)
	}
	return n, nil
}

// FeaturesFromRecord validates the scoring fields of a record.
func FeaturesFromRecord(rec TabularRecord) (FeatureVector, error) {
	values := make(map[string]string, 4)
	for _, name := range []string{FieldTransactionType, FieldAmount, FieldOldBalanceOrig, FieldNewBalanceOrig} {
		v, ok := rec.Value(name)
		v = strings.TrimSpace(v)
		if !ok || v == "" || v == UnknownValue {
			return FeatureVector{}, fmt.Errorf("%w: %s", ErrMissingFeature, name)
		}
		values[name] = v
	}

	txType, ok := ParseTransactionType(values[FieldTransactionType])
	if !ok {
		return FeatureVector{}, fmt.Errorf("%w: unrecognised transaction type %q", ErrMissingFeature, values[FieldTransactionType])
	}
	amount, err := ParseAmount(values[FieldAmount])
	if err != nil {
		return FeatureVector{}, err
	}
	oldBalance, err := ParseAmount(values[FieldOldBalanceOrig])
	if err != nil {
		return FeatureVector{}, err
	}
	newBalance, err := ParseAmount(values[FieldNewBalanceOrig])
	if err != nil {
		return FeatureVector{}, err
	}

	return FeatureVector{
		Amount:         amount,
		OldBalanceOrig: oldBalance,
		NewBalanceOrig: newBalance,
		Type:           txType,
	}, nil
}

// ValidProbability reports whether p is a usable classifier output.
func ValidProbability(p float64) bool {
	return !math.IsNaN(p) && p >= 0 && p <= 1
}

// FormatScore renders a probability as persisted in file status.
func FormatScore(p float64) string {
	return strconv.FormatFloat(p, 'f', 4, 64)
}

type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Projection groups record rows by translated category.
type Projection map[string][]KeyValue

type JSONResult struct {
	FileID      string              `json:"file_id"`
	Content     Projection          `json:"content"`
	Predictions map[string]*float64 `json:"predictions"`
	UpdatedAt   time.Time           `json:"updated_at"`
}
