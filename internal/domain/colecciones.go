package domain

import "sort"

// Coleccion names one orderable collection kind. Items of a coleccion are
// grouped by owner; ranks are only meaningful inside one owner.
type Coleccion string

const (
	Tareas        Coleccion = "tareas"
	Instrucciones Coleccion = "instrucciones"
	Canales       Coleccion = "canales"
	Funciones     Coleccion = "funciones"
	Parametros    Coleccion = "parametros"
	Etiquetas     Coleccion = "etiquetas"
	Campos        Coleccion = "campos"
	Etapas        Coleccion = "etapas"
)

type coleccionInfo struct {
	owner  string // what the owner id refers to
	global bool
}

var colecciones = map[Coleccion]coleccionInfo{
	Tareas:        {owner: "global", global: true},
	Instrucciones: {owner: "habilidad"},
	Canales:       {owner: "crm"},
	Funciones:     {owner: "tarea"},
	Parametros:    {owner: "funcion"},
	Etiquetas:     {owner: "crm"},
	Campos:        {owner: "crm"},
	Etapas:        {owner: "crm"},
}

func ParseColeccion(raw string) (Coleccion, error) {
	c := Coleccion(raw)
	if _, ok := colecciones[c]; !ok {
		return "", Invalid("coleccion", "coleccion desconocida %q", raw)
	}
	return c, nil
}

// Global reports whether the coleccion only has the GlobalOwner scope.
func (c Coleccion) Global() bool {
	return colecciones[c].global
}

func (c Coleccion) OwnerKind() string {
	return colecciones[c].owner
}

// CheckOwner validates an owner id for this coleccion.
func (c Coleccion) CheckOwner(ownerID string) error {
	if ownerID == "" {
		return Invalid("owner", "falta el %s propietario de %s", c.OwnerKind(), c)
	}
	if c.Global() && ownerID != GlobalOwner {
		return Invalid("owner", "%s solo admite el propietario %q", c, GlobalOwner)
	}
	return nil
}

func AllColecciones() []Coleccion {
	out := make([]Coleccion, 0, len(colecciones))
	for c := range colecciones {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
