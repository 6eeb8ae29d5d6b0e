package evtx

import (
	"fmt"
	"strconv"
	"strings"
)

type GoEvtxElement interface{}

// GoEvtxMap is the map representation of an event, built by MapBuilder
type GoEvtxMap map[string]interface{}

type GoEvtxPath []string

func (p GoEvtxPath) String() string {
	return strings.Join(p, "/")
}

type ErrEvtxEltNotFound struct {
	path GoEvtxPath
}

func (e *ErrEvtxEltNotFound) Error() string {
	return fmt.Sprintf("element at path %v not found", e.path)
}

func Path(s string) GoEvtxPath {
	return strings.Split(strings.Trim(s, PathSeparator), PathSeparator)
}

func asGoEvtxMap(i interface{}) (GoEvtxMap, bool) {
	switch m := i.(type) {
	case GoEvtxMap:
		return m, true
	case map[string]interface{}:
		return GoEvtxMap(m), true
	}
	return nil, false
}

func (pg *GoEvtxMap) HasKeys(keys ...string) bool {
	for _, k := range keys {
		if _, ok := (*pg)[k]; !ok {
			return false
		}
	}
	return true
}

// Add merges other into pg, no key may be defined in both
func (pg *GoEvtxMap) Add(other GoEvtxMap) error {
	for k := range other {
		if _, ok := (*pg)[k]; ok {
			return fmt.Errorf("duplicated key %s", k)
		}
	}
	for k, v := range other {
		(*pg)[k] = v
	}
	return nil
}

// GetMap returns the map holding the last element of path
func (pg *GoEvtxMap) GetMap(path *GoEvtxPath) (*GoEvtxMap, error) {
	if len(*path) > 0 {
		if ge, ok := (*pg)[(*path)[0]]; ok {
			if len(*path) == 1 {
				return pg, nil
			}
			if p, ok := asGoEvtxMap(ge); ok {
				np := (*path)[1:]
				return p.GetMap(&np)
			}
		}
	}
	return nil, &ErrEvtxEltNotFound{*path}
}

func (pg *GoEvtxMap) Get(path *GoEvtxPath) (*GoEvtxElement, error) {
	if len(*path) > 0 {
		if i, ok := (*pg)[(*path)[0]]; ok {
			if len(*path) == 1 {
				cge := GoEvtxElement(i)
				return &cge, nil
			}
			if p, ok := asGoEvtxMap(i); ok {
				np := (*path)[1:]
				return p.Get(&np)
			}
		}
	}
	return nil, &ErrEvtxEltNotFound{*path}
}

// GetString returns the text of the element at path
func (pg *GoEvtxMap) GetString(path *GoEvtxPath) (string, error) {
	e, err := pg.Get(path)
	if err != nil {
		return "", err
	}
	if s, ok := (*e).(string); ok {
		return s, nil
	}
	return fmt.Sprint(*e), nil
}

// GetInt returns the element at path as an integer, numeric strings included
func (pg *GoEvtxMap) GetInt(path *GoEvtxPath) (int64, error) {
	e, err := pg.Get(path)
	if err != nil {
		return 0, err
	}
	switch v := (*e).(type) {
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 0, 64)
	}
	return 0, fmt.Errorf("element at path %v is not an integer: %T", *path, *e)
}

// AnyEqual tells whether the element at path renders as one of is
func (pg *GoEvtxMap) AnyEqual(path *GoEvtxPath, is []interface{}) bool {
	t, err := pg.Get(path)
	if err != nil {
		return false
	}
	s := fmt.Sprint(*t)
	for _, i := range is {
		if fmt.Sprint(i) == s {
			return true
		}
	}
	return false
}

// IsEventID checks the EventID element, whether it is stored with its
// Qualifiers attribute or not
func (pg *GoEvtxMap) IsEventID(eids ...interface{}) bool {
	return pg.AnyEqual(&EventIDPath, eids) || pg.AnyEqual(&EventIDPath2, eids)
}

func (pg *GoEvtxMap) EventID() (int64, error) {
	if id, err := pg.GetInt(&EventIDPath2); err == nil {
		return id, nil
	}
	return pg.GetInt(&EventIDPath)
}

func (pg *GoEvtxMap) EventRecordID() (int64, error) {
	return pg.GetInt(&EventRecordIDPath)
}

func (pg *GoEvtxMap) Channel() (string, error) {
	return pg.GetString(&ChannelPath)
}

func (pg *GoEvtxMap) Set(path *GoEvtxPath, new GoEvtxElement) error {
	if len(*path) > 0 {
		if len(*path) == 1 {
			(*pg)[(*path)[0]] = new
			return nil
		}
		if p, ok := asGoEvtxMap((*pg)[(*path)[0]]); ok {
			np := (*path)[1:]
			return p.Set(&np, new)
		}
	}
	return &ErrEvtxEltNotFound{*path}
}

func (pg *GoEvtxMap) Del(path *GoEvtxPath) {
	if len(*path) == 0 {
		return
	}
	ge, ok := (*pg)[(*path)[0]]
	if !ok {
		return
	}
	if len(*path) == 1 {
		delete(*pg, (*path)[0])
		return
	}
	if p, ok := asGoEvtxMap(ge); ok {
		np := (*path)[1:]
		p.Del(&np)
	}
}

func (pg *GoEvtxMap) DelXmlns() {
	pg.Del(&XmlnsPath)
}
