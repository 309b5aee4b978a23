package domain

// UnknownValue marks a field the oracle could not determine.
const UnknownValue = "无"

const (
	CategoryTransaction = "本次交易"
	CategorySource      = "初始账户"
	CategoryTarget      = "目标账户"
	CategoryFraud       = "欺诈标记"
)

type FieldKind int

const (
	FieldText FieldKind = iota
	// FieldPassthrough keeps the oracle response verbatim.
	FieldPassthrough
	// FieldFlag is a yes/no fraud indicator.
	FieldFlag
)

type FieldSpec struct {
	Name        string
	Category    string
	Kind        FieldKind
	Explanation string
}

// Field names read by risk scoring.
const (
	FieldTransactionType = "交易类型"
	FieldAmount          = "交易金额"
	FieldOldBalanceOrig  = "初始账户旧余额"
	FieldNewBalanceOrig  = "初始账户新余额"
)

var recordFields = []FieldSpec{
	{Name: "交易ID", Category: CategoryTransaction, Explanation: "每笔交易的唯一标识符。"},
	{Name: FieldTransactionType, Category: CategoryTransaction, Explanation: "描述交易的类型，如转账、支付、取款、存款等。"},
	{Name: FieldAmount, Category: CategoryTransaction, Explanation: "交易涉及的金融数额。"},
	{Name: "交易币种", Category: CategoryTransaction, Explanation: "交易涉及的货币类型。"},
	{Name: "交易频率", Category: CategoryTransaction, Explanation: "交易是单次的还是连续多笔类似交易。"},
	{Name: "小额交易", Category: CategoryTransaction, Explanation: "该账户近期是否存在多笔小额交易。"},
	{Name: "设备信息", Category: CategoryTransaction, Kind: FieldPassthrough, Explanation: "使用哪个设备进行的交易，如IP地址、设备类型等。"},
	{Name: "交易时间", Category: CategoryTransaction, Explanation: "交易发生的具体时间戳。"},
	{Name: "操作时长", Category: CategoryTransaction, Explanation: "完成交易操作所停留的时长。"},
	{Name: FieldOldBalanceOrig, Category: CategorySource, Explanation: "交易发生前初始账户的余额。"},
	{Name: FieldNewBalanceOrig, Category: CategorySource, Explanation: "交易处理后初始账户的余额。"},
	{Name: "初始账户开户信息", Category: CategorySource, Kind: FieldPassthrough, Explanation: "初始账户开户时所提供的信息，包括开户时间、开户地点等。"},
	{Name: "初始账户信用等级", Category: CategorySource, Explanation: "对初始账户信用状况的评级。"},
	{Name: "初始账户地址", Category: CategorySource, Explanation: "初始账户所有者登记的居住或经营地址。"},
	{Name: "初始账户年龄", Category: CategorySource, Explanation: "初始账户从开户到当前的时长。"},
	{Name: "初始账户职业", Category: CategorySource, Explanation: "初始账户所有者所从事的职业。"},
	{Name: "初始账户教育水平", Category: CategorySource, Explanation: "初始账户所有者的受教育程度。"},
	{Name: "初始账户联系方式", Category: CategorySource, Explanation: "初始账户所有者登记的联系电话或电子邮箱。"},
	{Name: "目标账户名", Category: CategoryTarget, Explanation: "接收资金的目标账户或实体的标识符。"},
	{Name: "目标账户旧余额", Category: CategoryTarget, Explanation: "交易前目标账户的余额。"},
	{Name: "目标账户新余额", Category: CategoryTarget, Explanation: "交易完成后目标账户的余额。"},
	{Name: "目标账户开户信息", Category: CategoryTarget, Kind: FieldPassthrough, Explanation: "目标账户开户时所提供的信息，包括开户时间、开户地点等。"},
	{Name: "目标账户信用等级", Category: CategoryTarget, Explanation: "对目标账户信用状况的评级。"},
	{Name: "目标账户地址", Category: CategoryTarget, Explanation: "目标账户所有者登记的居住或经营地址。"},
	{Name: "目标账户年龄", Category: CategoryTarget, Explanation: "目标账户从开户到当前的时长。"},
	{Name: "目标账户职业", Category: CategoryTarget, Explanation: "目标账户所有者所从事的职业。"},
	{Name: "目标账户教育水平", Category: CategoryTarget, Explanation: "目标账户所有者的受教育程度。"},
	{Name: "目标账户联系方式", Category: CategoryTarget, Explanation: "目标账户所有者登记的联系电话或电子邮箱。"},
	{Name: "是否欺诈", Category: CategoryFraud, Kind: FieldFlag, Explanation: "二元指标，是表示该交易为欺诈交易，否表示为合法交易。"},
	{Name: "是否标记为欺诈", Category: CategoryFraud, Kind: FieldFlag, Explanation: "二元指标，表明一笔交易是否被标记为潜在欺诈。"},
}

// RecordFields returns the fixed field layout in spreadsheet row order.
func RecordFields() []FieldSpec {
	out := make([]FieldSpec, len(recordFields))
	copy(out, recordFields)
	return out
}

func LookupField(name string) (FieldSpec, bool) {
	for _, f := range recordFields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

type RecordEntry struct {
	Category string
	Field    string
	Value    string
}

// TabularRecord is the fixed-schema extraction result for one document.
type TabularRecord struct {
	Name    string
	Entries []RecordEntry
}

// NewTabularRecord returns a record with every field set to UnknownValue.
func NewTabularRecord(name string) TabularRecord {
	entries := make([]RecordEntry, 0, len(recordFields))
	for _, f := range recordFields {
		entries = append(entries, RecordEntry{Category: f.Category, Field: f.Name, Value: UnknownValue})
	}
	return TabularRecord{Name: name, Entries: entries}
}

func (r TabularRecord) Value(field string) (string, bool) {
	for _, e := range r.Entries {
		if e.Field == field {
			return e.Value, true
		}
	}
	return "", false
}

func (r *TabularRecord) Set(field, value string) bool {
	for i := range r.Entries {
		if r.Entries[i].Field == field {
			r.Entries[i].Value = value
			return true
		}
	}
	return false
}
