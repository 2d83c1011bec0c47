package user

// MaxFieldLength は name / email / note の最大文字数です (users テーブルの VARCHAR(255) に対応)。
const MaxFieldLength = 255

// User はユーザーエンティティです。users テーブルの 1 行に対応します。
type User struct {
	ID       int64
	Name     string
	Email    string
	Note     *string
	IsActive bool
}

// Clone は User のディープコピーを返します。
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Note != nil {
		note := *u.Note
		c.Note = &note
	}
	return &c
}

// Changes は部分更新の内容を表します。nil のフィールドは変更しません。
type Changes struct {
	Name      *string
	Email     *string
	Note      *string
	ClearNote bool
	IsActive  *bool
}

// IsEmpty は変更対象のフィールドが 1 つもない場合に true を返します。
func (c Changes) IsEmpty() bool {
	return c.Name == nil && c.Email == nil && c.Note == nil && !c.ClearNote && c.IsActive == nil
}

// Apply は変更内容を u に適用します。ID は変更されません。
func (c Changes) Apply(u *User) {
	if c.Name != nil {
		u.Name = *c.Name
	}
	if c.Email != nil {
		u.Email = *c.Email
	}
	if c.ClearNote {
		u.Note = nil
	}
	if c.Note != nil {
		note := *c.Note
		u.Note = &note
	}
	if c.IsActive != nil {
		u.IsActive = *c.IsActive
	}
}
