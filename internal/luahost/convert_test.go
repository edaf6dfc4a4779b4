package luahost

import (
	"reflect"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  interface{}
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool true", true, lua.LTBool},
		{"bool false", false, lua.LTBool},
		{"string", "hello", lua.LTString},
		{"int", 42, lua.LTNumber},
		{"int64", int64(99), lua.LTNumber},
		{"float64", 3.14, lua.LTNumber},
		{"uint8", uint8(255), lua.LTNumber},
		{"uint32", uint32(100000), lua.LTNumber},
		{"map", map[string]any{"a": 1}, lua.LTTable},
		{"slice", []any{1, 2, 3}, lua.LTTable},
		{"unknown", struct{}{}, lua.LTString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ToLua(L, tt.val)
			if result.Type() != tt.want {
				t.Errorf("ToLua(%v) type = %v, want %v", tt.val, result.Type(), tt.want)
			}
		})
	}
}

func TestToLuaTableContents(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	v := ToLua(L, map[string]any{"key": "value", "num": 10})
	tbl, ok := v.(*lua.LTable)
	if !ok {
		t.Fatal("expected LTable")
	}
	if got := tbl.RawGetString("key"); got != lua.LString("value") {
		t.Errorf("map[key] = %v, want value", got)
	}
	if got := tbl.RawGetString("num"); got != lua.LNumber(10) {
		t.Errorf("map[num] = %v, want 10", got)
	}

	v = ToLua(L, []any{"a", "b", "c"})
	tbl, ok = v.(*lua.LTable)
	if !ok {
		t.Fatal("expected LTable")
	}
	if tbl.Len() != 3 {
		t.Errorf("table len = %d, want 3", tbl.Len())
	}
	if got := tbl.RawGetInt(1); got != lua.LString("a") {
		t.Errorf("slice[1] = %v, want a", got)
	}
}

func TestFromLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  lua.LValue
		want any
	}{
		{"nil", lua.LNil, nil},
		{"bool", lua.LTrue, true},
		{"number", lua.LNumber(2.5), 2.5},
		{"string", lua.LString("s"), "s"},
		{"function", L.NewFunction(func(*lua.LState) int { return 0 }), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromLua(tt.val); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FromLua = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromLuaTable(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.RawSetString("a", lua.LNumber(1))
	tbl.RawSetString("b", lua.LString("two"))

	got := FromLua(tbl)
	want := map[string]any{"a": float64(1), "b": "two"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FromLua(table) = %v, want %v", got, want)
	}
}
