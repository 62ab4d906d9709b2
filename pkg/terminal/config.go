package terminal

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hldbg/hldbg/pkg/config"
)

func configureCmd(t *Term, ctx callContext, args string) error {
	switch args {
	case "-list":
		return configureList(t)
	case "-save":
		return config.SaveConfig(t.conf)
	case "":
		return fmt.Errorf("wrong number of arguments to \"config\"")
	default:
		return configureSet(t, args)
	}
}

type configField struct {
	name  string
	value reflect.Value
}

var durationType = reflect.TypeOf(time.Duration(0))

// configFields lists the parameters of conf, nested structs are flattened
// into dotted names.
func configFields(v reflect.Value, prefix string) []configField {
	var r []configField
	typ := v.Type()
	for i := 0; i < v.NumField(); i++ {
		name := typ.Field(i).Tag.Get("yaml")
		if comma := strings.Index(name, ","); comma >= 0 {
			name = name[:comma]
		}
		if name == "" || name == "aliases" {
			continue
		}
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			r = append(r, configFields(field, prefix+name+".")...)
			continue
		}
		r = append(r, configField{prefix + name, field})
	}
	return r
}

func configureFindFieldByName(conf *config.Config, name string) reflect.Value {
	for _, f := range configFields(reflect.ValueOf(conf).Elem(), "") {
		if f.name == name {
			return f.value
		}
	}
	return reflect.ValueOf(nil)
}

func configureList(t *Term) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)

	for _, f := range configFields(reflect.ValueOf(t.conf).Elem(), "") {
		if f.value.IsZero() {
			fmt.Fprintf(w, "%s\t<not defined>\n", f.name)
			continue
		}
		fmt.Fprintf(w, "%s\t%v\n", f.name, f.value)
	}
	cmds := make([]string, 0, len(t.conf.Aliases))
	for cmd := range t.conf.Aliases {
		cmds = append(cmds, cmd)
	}
	sort.Strings(cmds)
	for _, cmd := range cmds {
		fmt.Fprintf(w, "alias %s\t%s\n", cmd, strings.Join(t.conf.Aliases[cmd], " "))
	}
	return w.Flush()
}

func configureSet(t *Term, args string) error {
	v := strings.SplitN(args, " ", 2)

	cfgname := v[0]
	var rest string
	if len(v) == 2 {
		rest = strings.TrimSpace(v[1])
	}

	if cfgname == "alias" {
		return configureSetAlias(t, rest)
	}

	field := configureFindFieldByName(t.conf, cfgname)
	if !field.IsValid() || !field.CanSet() {
		return fmt.Errorf("%q is not a configuration parameter", cfgname)
	}

	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(rest)
		if err != nil || d < 0 {
			return fmt.Errorf("argument to %q must be a positive duration", cfgname)
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.Int:
		n, err := strconv.Atoi(rest)
		if err != nil {
			return fmt.Errorf("argument to %q must be a number", cfgname)
		}
		if n < 0 {
			return fmt.Errorf("argument to %q must be a number greater than zero", cfgname)
		}
		field.SetInt(int64(n))
	case field.Kind() == reflect.String:
		old := field.String()
		field.SetString(rest)
		if err := t.conf.Validate(); err != nil {
			field.SetString(old)
			return err
		}
	default:
		return fmt.Errorf("unsupported type for configuration key %q", cfgname)
	}
	fmt.Fprintln(t.stdout, "The new value is used by the next debugging session, use config -save to keep it.")
	return nil
}

func configureSetAlias(t *Term, rest string) error {
	argv, err := splitArgs(rest)
	if err != nil {
		return err
	}
	switch len(argv) {
	case 1: // delete alias rule
		for k := range t.conf.Aliases {
			v := t.conf.Aliases[k]
			for i := range v {
				if v[i] == argv[0] {
					copy(v[i:], v[i+1:])
					t.conf.Aliases[k] = v[:len(v)-1]
					break
				}
			}
		}
	case 2: // add alias rule
		alias, name := argv[1], argv[0]
		cmd := t.cmds.lookup(name)
		if cmd == nil {
			return fmt.Errorf("unknown command %q", name)
		}
		if t.conf.Aliases == nil {
			t.conf.Aliases = make(map[string][]string)
		}
		t.conf.Aliases[cmd.aliases[0]] = append(t.conf.Aliases[cmd.aliases[0]], alias)
	default:
		return fmt.Errorf("wrong number of arguments to \"config alias\"")
	}
	t.cmds.Merge(t.conf.Aliases)
	return nil
}
